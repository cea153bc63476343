// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package violation finds cryptocurrency addresses in clipboard text that are
// not on the operator's whitelist.
package violation

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Address kinds
const (
	KindBTC = "btc"
	KindETH = "eth"
)

var (
	btcPattern = regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b|\bbc1[a-z0-9]{39,59}\b`)
	ethPattern = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)
)

type Config struct {
	// Whitelist lists addresses that never raise an alert. Matching is exact.
	Whitelist []string
}

// Finding is one address that is not whitelisted.
type Finding struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
}

type Detector struct {
	lock      sync.RWMutex
	whitelist map[string]struct{}
}

func NewDetector(config Config) *Detector {
	d := &Detector{}
	d.Update(config.Whitelist)
	return d
}

// Update replaces the whitelist.
func (d *Detector) Update(addresses []string) {
	w := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if a = strings.TrimSpace(a); a != "" {
			w[a] = struct{}{}
		}
	}
	d.lock.Lock()
	d.whitelist = w
	d.lock.Unlock()
}

// Whitelist returns the whitelisted addresses in sorted order.
func (d *Detector) Whitelist() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	addresses := make([]string, 0, len(d.whitelist))
	for a := range d.whitelist {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)
	return addresses
}

// Detect returns the distinct addresses in content, bitcoin first and in order
// of appearance, that are not whitelisted.
func (d *Detector) Detect(content string) []Finding {
	if content == "" {
		return nil
	}
	var (
		findings []Finding
		seen     = map[string]struct{}{}
	)
	d.lock.RLock()
	defer d.lock.RUnlock()
	collect := func(kind string, matches []string) {
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			if _, ok := d.whitelist[m]; ok {
				continue
			}
			findings = append(findings, Finding{Address: m, Kind: kind})
		}
	}
	collect(KindBTC, btcPattern.FindAllString(content, -1))
	collect(KindETH, ethPattern.FindAllString(content, -1))
	return findings
}
