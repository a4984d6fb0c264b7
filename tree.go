package blockfs

import (
	"fmt"
	"strings"

	"github.com/hupe1980/blockfs/format"
)

// LogTree walks the whole namespace depth first and emits one log line per
// entry, files annotated with a human-readable size.
func (fs *FS) LogTree() error {
	return fs.logTree(fs.root, 0)
}

func (fs *FS) logTree(dir format.DirectoryDescriptor, depth int) error {
	for _, entry := range dir.Entries {
		var indent strings.Builder
		indent.WriteString("  ")
		for i := 0; i < depth; i++ {
			if i == depth-1 {
				indent.WriteString("|--")
				continue
			}
			indent.WriteString("  ")
		}

		if entry.IsDirectory {
			fs.log.Info(indent.String() + entry.Name)

			sub, err := fs.readDirectory(entry)
			if err != nil {
				return err
			}
			if err := fs.logTree(sub, depth+1); err != nil {
				return err
			}
			continue
		}

		fs.log.Info(fmt.Sprintf("%s%s (%s)", indent.String(), entry.Name, formatBytes(entry.Size)))
	}
	return nil
}

// formatBytes renders a byte count as B, KB, MB or GB with two decimal
// digits, computed in integer math.
func formatBytes(n uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%dB", n)
	case n < mb:
		return fmt.Sprintf("%d.%02dKB", n/kb, n%kb*100/kb)
	case n < gb:
		return fmt.Sprintf("%d.%02dMB", n/mb, n%mb*100/mb)
	default:
		return fmt.Sprintf("%d.%02dGB", n/gb, n%gb*100/gb)
	}
}
