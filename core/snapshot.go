package core

// snapshot.go – the append-only persistence log: open-or-create,
// replay on startup, append-one-line-of-JSON-per-tick, fsync after every
// write. JSON is used here (not the canonical binary codec.go encoding)
// because the WAL is an operational/debugging artifact, not a
// consensus-hashed quantity; hashing always goes through codec.go.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Snapshot is one tick's complete record: what came in, what committed,
// what went out. Replaying the log from genesis must reproduce identical
// EntityMachine/AccountMachine state (determinism).
type Snapshot struct {
	Height    uint64
	Timestamp uint64

	Inbound   map[EntityId]EntityInbox    `json:"inbound"`
	Committed map[EntityId]*EntityFrame   `json:"committed"`
	Outbound  map[EntityId][]AccountMessage `json:"outbound"`
}

// SnapshotLog is an append-only, WAL-backed sequence of Snapshots.
type SnapshotLog struct {
	path string
	file *os.File
}

// OpenSnapshotLog opens (creating if absent) the WAL file at path. The
// caller is responsible for replaying it via ReadAll before the Runtime
// starts producing new ticks.
func OpenSnapshotLog(path string) (*SnapshotLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open snapshot log: %w", err)
	}
	return &SnapshotLog{path: path, file: f}, nil
}

// ReadAll replays every snapshot recorded so far, in append order.
func (l *SnapshotLog) ReadAll() ([]Snapshot, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot log for replay: %w", err)
	}
	defer f.Close()

	var out []Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var s Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("snapshot log unmarshal: %w", err)
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("snapshot log scan: %w", err)
	}
	return out, nil
}

// Append writes one Snapshot as a JSON line and fsyncs before returning,
// so a crash never loses an acknowledged write.
func (l *SnapshotLog) Append(s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write snapshot log: %w", err)
	}
	return l.file.Sync()
}

// Close releases the underlying WAL file handle.
func (l *SnapshotLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
