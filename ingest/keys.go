// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xmidt-org/lookout/model"
)

const (
	rootPrefix    = "screenshots/"
	currentObject = "current.jpg"
	alertFolder   = "alerts"
)

// CurrentKey is the single, always overwritten object holding an agent's
// latest frame.
func CurrentKey(id model.AgentID) string {
	return rootPrefix + string(id) + "/" + currentObject
}

// AlertPrefix is the folder of an agent's write-once alert archive.
func AlertPrefix(id model.AgentID) string {
	return rootPrefix + string(id) + "/" + alertFolder + "/"
}

// alertKey sorts by time within the folder. The random suffix keeps two
// alerts taken in the same millisecond apart.
func alertKey(id model.AgentID, at time.Time) string {
	return fmt.Sprintf("%s%013d-%s.jpg", AlertPrefix(id), at.UnixMilli(), uuid.NewString())
}

func contentKey(folder string, at time.Time, fingerprint string) string {
	return fmt.Sprintf("%s/%013d-%s.jpg", strings.TrimSuffix(folder, "/"), at.UnixMilli(), fingerprint)
}
