package pipeline

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Record kinds emitted by the crawler.
const (
	KindContents = "contents"
	KindComments = "comments"
)

// Kinds lists every record kind in processing order.
var Kinds = []string{KindContents, KindComments}

const shardDateLayout = "2006-01-02"

// Shard names look like [prefix_]kind_YYYY-MM-DD_keyword.csv. The crawler prefixes with
// "search_"; hand-exported shards usually have no prefix.
var shardNamePattern = regexp.MustCompile(`^(?:([A-Za-z0-9]+)_)?(contents|comments)_(\d{4}-\d{2}-\d{2})_(.+)\.(?i:csv)$`)

// ShardFile is one dated, keyword-partitioned export file.
type ShardFile struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Prefix  string    `json:"prefix,omitempty"`
	Kind    string    `json:"kind"`
	Date    time.Time `json:"date"`
	Keyword string    `json:"keyword"`
}

// GroupKey identifies the shards that fuse into one file.
type GroupKey struct {
	Kind    string `json:"kind"`
	Keyword string `json:"keyword"`
}

func (k GroupKey) String() string { return k.Kind + "/" + k.Keyword }

// ShardGroup holds shards sharing a GroupKey, ordered by date then file name.
type ShardGroup struct {
	Key     GroupKey
	Members []ShardFile
}

// Earliest is the member whose path receives the merged output.
func (g ShardGroup) Earliest() ShardFile { return g.Members[0] }

// ParseShardName parses a bare file name. Names that do not follow the shard convention,
// or carry an impossible date, report false.
func ParseShardName(name string) (ShardFile, bool) {
	m := shardNamePattern.FindStringSubmatch(name)
	if m == nil {
		return ShardFile{}, false
	}
	date, err := time.Parse(shardDateLayout, m[3])
	if err != nil {
		return ShardFile{}, false
	}
	keyword := strings.TrimSpace(m[4])
	if keyword == "" {
		return ShardFile{}, false
	}
	return ShardFile{
		Name:    name,
		Prefix:  m[1],
		Kind:    m[2],
		Date:    date,
		Keyword: keyword,
	}, true
}

// ParseShardPath is ParseShardName applied to the base name of a cleaned path.
func ParseShardPath(path string) (ShardFile, bool) {
	path = filepath.Clean(path)
	sf, ok := ParseShardName(filepath.Base(path))
	if !ok {
		return ShardFile{}, false
	}
	sf.Path = path
	return sf, true
}

// GroupKeyOf returns the grouping key for path. It depends only on the kind and keyword in
// the file name, never on the directory, date or prefix.
func GroupKeyOf(path string) (GroupKey, bool) {
	sf, ok := ParseShardPath(path)
	if !ok {
		return GroupKey{}, false
	}
	return GroupKey{Kind: sf.Kind, Keyword: sf.Keyword}, true
}

// GroupShards partitions paths by GroupKey. Paths that are not shards are dropped. Groups come
// back ordered by kind then keyword; members by date then name.
func GroupShards(paths []string) []ShardGroup {
	byKey := map[GroupKey][]ShardFile{}
	for _, p := range paths {
		sf, ok := ParseShardPath(p)
		if !ok {
			continue
		}
		key := GroupKey{Kind: sf.Kind, Keyword: sf.Keyword}
		byKey[key] = append(byKey[key], sf)
	}

	groups := make([]ShardGroup, 0, len(byKey))
	for key, members := range byKey {
		sort.Slice(members, func(i, j int) bool {
			if !members[i].Date.Equal(members[j].Date) {
				return members[i].Date.Before(members[j].Date)
			}
			return members[i].Name < members[j].Name
		})
		groups = append(groups, ShardGroup{Key: key, Members: members})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Key.Kind != groups[j].Key.Kind {
			return groups[i].Key.Kind < groups[j].Key.Kind
		}
		return groups[i].Key.Keyword < groups[j].Key.Keyword
	})
	return groups
}

// KeywordFromFilename returns the keyword a corpus row is tagged with. Shard names yield the
// same keyword they are grouped by, prefixed or not. Other names fall back to the fourth and
// later "_"-separated segments of the stem, or "unknown" when the stem is shorter.
func KeywordFromFilename(name string) string {
	base := filepath.Base(name)
	if sf, ok := ParseShardName(base); ok {
		return sf.Keyword
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	if len(parts) < 4 {
		return "unknown"
	}
	kw := strings.Join(parts[3:], "_")
	if strings.TrimSpace(kw) == "" {
		return "unknown"
	}
	return kw
}
