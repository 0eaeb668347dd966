package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrConcurrentCommit is returned when another writer committed the same
// table version first.
var ErrConcurrentCommit = errors.New("concurrent commit to table")

const logDir = "_log"

// FileAction names a part file added to or removed from the table.
type FileAction struct {
	Path string `json:"path"`
	Rows int64  `json:"rows"`
	Size int64  `json:"size"`
}

// Commit is one entry of a table's transaction log.
type Commit struct {
	Version   int64        `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Operation string       `json:"operation"`
	Mode      string       `json:"mode"`
	RunID     string       `json:"run_id"`
	Add       []FileAction `json:"add,omitempty"`
	Remove    []FileAction `json:"remove,omitempty"`
}

// txLog is the commit log under <table>/_log. Version n lives in a file
// named by n zero-padded to 20 digits.
type txLog struct {
	dir string
}

func (l txLog) path(version int64) string {
	return filepath.Join(l.dir, fmt.Sprintf("%020d.json", version))
}

// commits returns every commit in version order. A table without a log has
// no commits.
func (l txLog) commits() ([]Commit, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log: %w", err)
	}

	var versions []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	commits := make([]Commit, 0, len(versions))
	for _, v := range versions {
		data, err := os.ReadFile(l.path(v))
		if err != nil {
			return nil, fmt.Errorf("read commit %d: %w", v, err)
		}
		var c Commit
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode commit %d: %w", v, err)
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// commit writes c as version c.Version. The log file is created
// exclusively, so two writers cannot both commit the same version.
func (l txLog) commit(c Commit) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}

	f, err := os.OpenFile(l.path(c.Version), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: version %d", ErrConcurrentCommit, c.Version)
		}
		return fmt.Errorf("create commit %d: %w", c.Version, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write commit %d: %w", c.Version, err)
	}
	return f.Close()
}

// replay folds the commits into the set of live part files, in the order
// they were added.
func replay(commits []Commit) []FileAction {
	var live []FileAction
	for _, c := range commits {
		if len(c.Remove) > 0 {
			removed := make(map[string]bool, len(c.Remove))
			for _, r := range c.Remove {
				removed[r.Path] = true
			}
			kept := live[:0]
			for _, f := range live {
				if !removed[f.Path] {
					kept = append(kept, f)
				}
			}
			live = kept
		}
		live = append(live, c.Add...)
	}
	return live
}
