// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/lookout/objectstore"
)

// UploadDeduplicated stores data under a content addressed key in folder
// unless an object with the same fingerprint is already there, in which case
// that object's URL is returned and nothing is written. Finding a duplicate
// lists the folder and stats every object in it, so folders should stay
// small. The agent's lock is held for the whole check-then-write.
func (e *Engine) UploadDeduplicated(ctx context.Context, id model.AgentID, folder string, data []byte) (model.UploadResult, error) {
	if len(data) == 0 {
		return model.UploadResult{}, ErrEmptyPayload
	}
	lease, err := e.admission.TryAcquire()
	if err != nil {
		e.measures.rejected(DedupType)
		return model.UploadResult{}, err
	}
	defer lease.Release()

	var result model.UploadResult
	err = e.serializer.Do(ctx, string(id), func(ctx context.Context) error {
		var err error
		result, err = e.uploadDeduplicated(ctx, id, folder, data)
		return err
	})
	return result, err
}

func (e *Engine) uploadDeduplicated(ctx context.Context, id model.AgentID, folder string, data []byte) (model.UploadResult, error) {
	fingerprint := Fingerprint(data)
	result := model.UploadResult{
		Fingerprint: fingerprint,
		Size:        len(data),
	}

	key, err := e.findFingerprint(ctx, folder, fingerprint)
	if err != nil {
		return model.UploadResult{}, err
	}
	if key != "" {
		inc(e.measures.DedupHits, 1)
		result.Key = key
		result.Deduplicated = true
		result.URL, err = e.store.URL(ctx, key)
		return result, err
	}

	now := e.now()
	result.Key = contentKey(folder, now, fingerprint)
	result.ETag, err = e.store.Put(ctx, result.Key, data, map[string]string{
		objectstore.MetaContentType: contentType,
		objectstore.MetaAgentID:     string(id),
		objectstore.MetaFingerprint: fingerprint,
		objectstore.MetaUploadTime:  strconv.FormatInt(now.UnixMilli(), 10),
	})
	e.measures.upload(DedupType, err)
	if err != nil {
		return model.UploadResult{}, err
	}
	result.URL, err = e.store.URL(ctx, result.Key)
	return result, err
}

// findFingerprint returns the key of the first object in folder whose
// metadata carries fingerprint, or "" if there is none. Objects deleted
// between the listing and the stat are skipped.
func (e *Engine) findFingerprint(ctx context.Context, folder, fingerprint string) (string, error) {
	objects, err := e.store.List(ctx, strings.TrimSuffix(folder, "/")+"/")
	if err != nil {
		return "", err
	}
	for _, o := range objects {
		metadata, err := e.store.Stat(ctx, o.Key)
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if metadata[objectstore.MetaFingerprint] == fingerprint {
			return o.Key, nil
		}
	}
	return "", nil
}
