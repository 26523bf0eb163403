package gqlwatch

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

type snapshotEntry struct {
	OperationName string
	VariablesJSON string
	Data          []byte
}

type snapshot struct {
	Entries []snapshotEntry
}

// Snapshot serializes the last successful payload of every materialized
// execution (plus any still-unclaimed restored results) so it can be handed
// to RestoreSnapshot on a future client.
func (c *Client) Snapshot() ([]byte, error) {
	c.mu.Lock()
	var snap snapshot
	for _, e := range c.registry.executions {
		if !e.hasData() {
			continue
		}
		variablesJSON := ""
		if len(e.variables) > 0 {
			b, err := canonicalJSON.Marshal(map[string]interface{}(e.variables))
			if err != nil {
				c.mu.Unlock()
				return nil, errors.Wrap(err, "unable to marshal execution variables")
			}
			variablesJSON = string(b)
		}
		snap.Entries = append(snap.Entries, snapshotEntry{
			OperationName: e.definition.Name,
			VariablesJSON: variablesJSON,
			Data:          e.data,
		})
	}
	for key, data := range c.cache {
		if _, ok := c.registry.executions[key]; ok {
			continue
		}
		snap.Entries = append(snap.Entries, snapshotEntryFromKey(key, data))
	}
	c.mu.Unlock()

	b, err := msgpack.Marshal(&snap)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal snapshot")
	}
	return b, nil
}

func snapshotEntryFromKey(key string, data json.RawMessage) snapshotEntry {
	name, variablesJSON := key, ""
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			name, variablesJSON = key[:i], key[i+1:]
			break
		}
	}
	return snapshotEntry{
		OperationName: name,
		VariablesJSON: variablesJSON,
		Data:          data,
	}
}

// RestoreSnapshot seeds the client's result cache from a Snapshot payload.
// Restored results satisfy later binds of the same (operation, variables)
// without a transport call, but they create no registry entries: refetch
// ranges only over executions that have actually been bound in this client's
// lifetime.
func (c *Client) RestoreSnapshot(data []byte) error {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "unable to unmarshal snapshot")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range snap.Entries {
		key := entry.OperationName
		if entry.VariablesJSON != "" {
			key += ":" + entry.VariablesJSON
		}
		c.cache[key] = json.RawMessage(entry.Data)
	}
	return nil
}
