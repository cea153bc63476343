// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"time"
)

const (
	// TypeLabel is for labeling metrics; if there is a single metric for
	// successful operations, the TypeLabel and corresponding type can be used
	// when incrementing the metric.
	TypeLabel  = "type"
	PutType    = "put"
	GetType    = "get"
	StatType   = "stat"
	ListType   = "list"
	DeleteType = "delete"
	URLType    = "url"
)

// Metadata keys written alongside every object.
const (
	MetaContentType = "Content-Type"
	MetaFingerprint = "X-Fingerprint"
	MetaUploadTime  = "X-Upload-Time"
	MetaAgentID     = "X-Agent-Id"
)

// ObjectInfo is a single entry of a prefix listing.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
	ETag         string
}

// S is the object store capability: keyed byte blobs with metadata.
type S interface {
	// Put writes data under key, replacing whatever was there, and returns the etag.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (map[string]string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error

	// URL returns a location the object can be fetched from.
	URL(ctx context.Context, key string) (string, error)
}
