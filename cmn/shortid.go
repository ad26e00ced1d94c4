// Package cmn provides common configuration and identifiers for obsxfer packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"math/rand/v2"

	"github.com/teris-io/shortid"
)

// NOTE: BEWARE: `shortid` uses hardcoded 01/2016 as a starting timestamp

const (
	// Alphabet for generating pass IDs similar to the shortid.DEFAULT_ABC
	uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"
)

var sids [16]*shortid.Shortid

func InitShortid(seed uint64) {
	for i := range sids {
		sids[i] = shortid.MustNew(uint8(i+1) /*worker*/, uuidABC, seed)
	}
}

// GenPassID generates a user-friendly ID that tags one write or read pass in
// the logs of every rank (rank 0 generates it and broadcasts).
func GenPassID() (id string) {
	var err error
	for _, sid := range sids {
		if sid == nil {
			break
		}
		id, err = sid.Generate()
		if err == nil && id[0] != '-' && id[0] != '_' && id[len(id)-1] != '-' && id[len(id)-1] != '_' {
			return
		}
	}
	return randString(9)
}

func randString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = uuidABC[2+rand.IntN(len(uuidABC)-4)]
	}
	return string(b)
}
