package cache

import "sort"

// tagIndex maps invalidation tags to cache keys and back. It lives outside the
// key space so tag names can never collide with caller keys. Callers hold the
// store mutex.
type tagIndex struct {
	byTag map[string]map[string]struct{} // tag → set of cache keys
	byKey map[string][]string            // key → tags
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string][]string),
	}
}

// add registers key under each tag. Any previous registration must already
// have been removed.
func (t *tagIndex) add(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	owned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		keys, ok := t.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			t.byTag[tag] = keys
		}
		if _, dup := keys[key]; dup {
			continue
		}
		keys[key] = struct{}{}
		owned = append(owned, tag)
	}
	if len(owned) > 0 {
		t.byKey[key] = owned
	}
}

// remove drops every tag registration for key.
func (t *tagIndex) remove(key string) {
	tags, ok := t.byKey[key]
	if !ok {
		return
	}
	for _, tag := range tags {
		if keys, ok := t.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(t.byTag, tag)
			}
		}
	}
	delete(t.byKey, key)
}

// keys returns the keys registered under tag.
func (t *tagIndex) keys(tag string) []string {
	set := t.byTag[tag]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (t *tagIndex) tagsFor(key string) []string {
	tags := t.byKey[key]
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

func (t *tagIndex) names() []string {
	out := make([]string, 0, len(t.byTag))
	for tag := range t.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func (t *tagIndex) reset() {
	t.byTag = make(map[string]map[string]struct{})
	t.byKey = make(map[string][]string)
}
