// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package store

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Seed is the on-disk fixture format for standalone deployments: projects
// and their users, loaded into the in-memory store at startup. Production
// deployments replace the memory store with the platform's own stores.
type Seed struct {
	Projects []*Project         `json:"projects"`
	Users    map[string][]*User `json:"users"`
}

// LoadSeedFile builds a Memory store from a seed file.
func LoadSeedFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	m := NewMemory()
	for _, p := range seed.Projects {
		if p.ID == "" {
			return nil, fmt.Errorf("seed file %s: project without an id", path)
		}
		m.AddProject(p)
	}
	for project, users := range seed.Users {
		for _, u := range users {
			if u.ID == "" {
				return nil, fmt.Errorf("seed file %s: user without an id in project %s", path, project)
			}
			m.AddUser(project, u)
		}
	}
	return m, nil
}
