package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// LogIndex is an append-only index file with one line per entry:
//
//	<ts> <id>
//
// Every append is a single write followed by fsync, so a crash can at
// worst leave a partial last line. Reads ignore it and the next append
// truncates it before writing.
type LogIndex struct {
	DataDir  string
	FileName string

	path string
	mu   sync.Mutex
}

var _ Index = &LogIndex{}

// OpenLog creates the directory and the index file if needed
func OpenLog(dataDir string, fileName string) (*LogIndex, error) {
	if fileName == "" {
		fileName = "index.txt"
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("index: failed to create directory '%s': %w", dataDir, err)
	}
	x := &LogIndex{
		DataDir:  dataDir,
		FileName: fileName,
		path:     filepath.Join(dataDir, fileName),
	}
	f, err := os.OpenFile(x.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return x, f.Close()
}

func (x *LogIndex) Path() string {
	return x.path
}

// trimPartialLine truncates f after its last '\n'
func trimPartialLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	end := st.Size()
	var buf [4096]byte
	pos := end
	for pos > 0 {
		n := int64(len(buf))
		if n > pos {
			n = pos
		}
		pos -= n
		if _, err = f.ReadAt(buf[:n], pos); err != nil {
			return err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			pos += int64(i) + 1
			break
		}
	}
	if pos == end {
		return nil
	}
	return f.Truncate(pos)
}

func appendToFileRobust(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if err = trimPartialLine(file); err != nil {
		file.Close()
		return err
	}
	if _, err = file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err = file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (x *LogIndex) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("index: empty id")
	}
	if strings.ContainsAny(e.ID, " \n\r") {
		return fmt.Errorf("index: id '%s' can't contain spaces or newlines", e.ID)
	}
	if e.Ts < 0 {
		return fmt.Errorf("index: negative timestamp %d", e.Ts)
	}
	line := fmt.Sprintf("%d %s\n", e.Ts, e.ID)
	x.mu.Lock()
	defer x.mu.Unlock()
	return appendToFileRobust(x.path, []byte(line))
}

// ParseLine parses "<ts> <id>"
func ParseLine(line string, e *Entry) error {
	ts, id, ok := strings.Cut(line, " ")
	if !ok || id == "" || strings.Contains(id, " ") {
		return fmt.Errorf("invalid index line: '%s'", line)
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid time in index line: '%s'", line)
	}
	e.Ts = n
	e.ID = id
	return nil
}

// ParseLog parses the content of an index file
func ParseLog(d []byte) ([]Entry, error) {
	lines := bytes.Split(d, []byte{'\n'})
	// the last element is either empty (file ends with newline) or
	// a partial line from an interrupted write
	lines = lines[:len(lines)-1]
	res := make([]Entry, 0, len(lines))
	for _, l := range lines {
		line := strings.TrimSuffix(string(l), "\r")
		if line == "" {
			continue
		}
		var e Entry
		if err := ParseLine(line, &e); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

func (x *LogIndex) Entries(ctx context.Context) ([]Entry, error) {
	x.mu.Lock()
	d, err := os.ReadFile(x.path)
	x.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseLog(d)
}
