// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package casematch

// MaxMatchSize returns the size of a maximum one-to-one matching of m.
//
// Description:
//
//	Kuhn's augmenting-path algorithm over the case/control bipartite graph,
//	O(cases * edges). Sampled draws are greedy and can fall short of this
//	number when eligible sets overlap; comparing the two shows how much
//	the visiting order costs.
func (m *OneToMany) MaxMatchSize() int {
	owner := make(map[string]string)
	size := 0
	for _, c := range m.cases {
		visited := make(map[string]bool)
		if m.augment(c, owner, visited) {
			size++
		}
	}
	return size
}

// augment tries to give c a control, re-seating earlier cases if needed.
func (m *OneToMany) augment(c string, owner map[string]string, visited map[string]bool) bool {
	for _, ctrl := range m.eligible[c] {
		if visited[ctrl] {
			continue
		}
		visited[ctrl] = true
		prev, taken := owner[ctrl]
		if !taken || m.augment(prev, owner, visited) {
			owner[ctrl] = c
			return true
		}
	}
	return false
}
