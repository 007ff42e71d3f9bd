// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import "fmt"

// Note is a timestamped free-text annotation on a metadata record.
type Note struct {
	Time    Time
	Content string
}

func NewNote(content string) Note {
	return Note{Time: Now(), Content: content}
}

func (n Note) Code() Code { return CodeNote }

func (n Note) EncodePayload(e *Encoder) {
	e.Time(n.Time)
	e.Raw([]byte(n.Content))
}

func (n Note) String() string {
	return fmt.Sprintf("[%s] %s", n.Time, n.Content)
}

func (n Note) Compare(o Item) int { return CompareItems(n, o) }

func (n Note) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "note", "time": n.Time.ISO8601(), "value": n.Content,
	}
}

func decodeNote(d *Decoder) (Item, error) {
	return Note{Time: d.Time(), Content: string(d.Rest())}, nil
}

// AssignedDataset records that a record was acquired into a dataset.
type AssignedDataset struct {
	Changed Time
	Name    string
	ID      string
}

func (a AssignedDataset) Code() Code { return CodeAssignedDataset }

func (a AssignedDataset) EncodePayload(e *Encoder) {
	e.Time(a.Changed)
	e.String(a.Name)
	e.String(a.ID)
}

func (a AssignedDataset) String() string {
	return fmt.Sprintf("%s as %s", a.Name, a.ID)
}

func (a AssignedDataset) Compare(o Item) int { return CompareItems(a, o) }

func (a AssignedDataset) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "assigneddataset", "changed": a.Changed.ISO8601(),
		"name": a.Name, "id": a.ID,
	}
}

func decodeAssignedDataset(d *Decoder) (Item, error) {
	return AssignedDataset{Changed: d.Time(), Name: d.String(), ID: d.String()}, nil
}
