// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"bytes"
	"sync"
)

// Packet bodies are encoded into pooled buffers; one is allocated per Pack
// call otherwise. Oversized buffers are not returned to the pool so a
// single large publish does not pin its capacity forever.
const maxPooledCap = 64 * 1024

var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func getBody() *bytes.Buffer {
	b := bodyPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putBody(b *bytes.Buffer) {
	if b.Cap() > maxPooledCap {
		return
	}
	bodyPool.Put(b)
}
