// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scan

// UpdateSequenceNumber extracts the BUFR update sequence number, the
// version counter the higher_usn replace policy compares. Only BUFR
// carries one.
func UpdateSequenceNumber(format string, data []byte) (int, bool) {
	if format != "bufr" || len(data) < 8 || string(data[:4]) != "BUFR" {
		return 0, false
	}
	switch edition := data[7]; edition {
	case 2, 3:
		// section 1 octet 7
		if len(data) < 15 {
			return 0, false
		}
		return int(data[8+6]), true
	case 4:
		// section 1 octet 9
		if len(data) < 17 {
			return 0, false
		}
		return int(data[8+8]), true
	default:
		return 0, false
	}
}
