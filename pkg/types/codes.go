// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import "fmt"

// Code identifies a metadata dimension. The numeric values are part of
// the on-disk binary encoding and must never be reused.
type Code uint8

const (
	CodeOrigin          Code = 1
	CodeProduct         Code = 2
	CodeLevel           Code = 3
	CodeTimerange       Code = 4
	CodeReftime         Code = 5
	CodeNote            Code = 6
	CodeSource          Code = 7
	CodeAssignedDataset Code = 8
	CodeArea            Code = 9
	CodeProddef         Code = 10
	CodeRun             Code = 12
	CodeTask            Code = 13
	CodeQuantity        Code = 14
	CodeValue           Code = 15
)

var codeNames = map[Code]string{
	CodeOrigin:          "origin",
	CodeProduct:         "product",
	CodeLevel:           "level",
	CodeTimerange:       "timerange",
	CodeReftime:         "reftime",
	CodeNote:            "note",
	CodeSource:          "source",
	CodeAssignedDataset: "assigneddataset",
	CodeArea:            "area",
	CodeProddef:         "proddef",
	CodeRun:             "run",
	CodeTask:            "task",
	CodeQuantity:        "quantity",
	CodeValue:           "value",
}

var codesByName = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, n := range codeNames {
		m[n] = c
	}
	return m
}()

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCode resolves a lower-case dimension name to its code.
func ParseCode(name string) (Code, error) {
	if c, ok := codesByName[name]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown metadata type name %q", name)
}

// QueryCodes lists the dimensions that can appear in a matcher
// expression, in canonical order.
var QueryCodes = []Code{
	CodeOrigin, CodeProduct, CodeLevel, CodeTimerange, CodeReftime,
	CodeArea, CodeProddef, CodeRun, CodeTask, CodeQuantity,
}

// SummaryCodes lists the dimensions a summary groups on: everything
// except reftime, source and the bookkeeping items.
var SummaryCodes = []Code{
	CodeOrigin, CodeProduct, CodeLevel, CodeTimerange,
	CodeArea, CodeProddef, CodeRun, CodeTask, CodeQuantity, CodeValue,
}
