package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResolvedCast is a cast mount resolved to an absolute archive path.
type ResolvedCast struct {
	Name   string
	Number int32
	Path   string
}

// ResolveCasts validates the [[casts]] entries and resolves their paths
// against the manifest directory. Mounts without an explicit number are
// assigned the next free one, starting at 2; number 1 belongs to the
// entry movie's own cast. The result comes back in mount order sorted
// by number.
func (m *Manifest) ResolveCasts() ([]ResolvedCast, error) {
	if len(m.Casts) == 0 {
		return nil, nil
	}

	used := map[int32]string{}
	names := map[string]int32{}
	next := int32(2)

	resolved := make([]ResolvedCast, 0, len(m.Casts))
	for i, mount := range m.Casts {
		if mount.Path == "" {
			return nil, fmt.Errorf("casts[%d]: path is required", i)
		}

		path := mount.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.Dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("casts[%d]: %w", i, err)
		}

		number := mount.Number
		if number == 0 {
			for {
				if _, taken := used[next]; !taken && next != 1 {
					break
				}
				next++
			}
			number = next
			next++
		}
		if number == 1 {
			return nil, fmt.Errorf("casts[%d]: number 1 is reserved for the movie cast", i)
		}
		if prev, taken := used[number]; taken {
			return nil, fmt.Errorf("casts[%d]: number %d already mounts %s", i, number, prev)
		}
		used[number] = path

		if mount.Name != "" {
			key := strings.ToLower(mount.Name)
			if _, taken := names[key]; taken {
				return nil, fmt.Errorf("casts[%d]: duplicate cast name %q", i, mount.Name)
			}
			names[key] = number
		}

		resolved = append(resolved, ResolvedCast{
			Name:   mount.Name,
			Number: number,
			Path:   path,
		})
	}

	sort.Slice(resolved, func(a, b int) bool {
		return resolved[a].Number < resolved[b].Number
	})
	return resolved, nil
}
