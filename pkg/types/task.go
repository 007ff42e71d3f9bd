// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

// Task names the processing task that generated a message.
type Task struct {
	Value string
}

func (t Task) Code() Code { return CodeTask }

func (t Task) EncodePayload(e *Encoder) {
	e.Raw([]byte(t.Value))
}

func (t Task) String() string { return t.Value }

func (t Task) Compare(o Item) int { return CompareItems(t, o) }

func (t Task) Serialise() map[string]interface{} {
	return map[string]interface{}{"type": "task", "value": t.Value}
}

func decodeTask(d *Decoder) (Item, error) {
	return Task{Value: string(d.Rest())}, nil
}
