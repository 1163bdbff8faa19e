package store

import "fmt"

// SetStatus writes one daemon_status key/value pair (spec.md §3/§6), the
// table external "status" invocations and internal/statusbus both read.
func (s *Store) SetStatus(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO daemon_status (key, value) VALUES (?,?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	return nil
}

// GetAllStatus returns every daemon_status row as a map.
func (s *Store) GetAllStatus() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM daemon_status`)
	if err != nil {
		return nil, fmt.Errorf("get all status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
