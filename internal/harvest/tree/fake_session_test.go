package tree

import (
	"context"
	"errors"
	"net/url"
	"time"
)

var errStale = errors.New("stale element")

type node struct {
	name         string
	folders      []*node
	docs         []string
	listFailures int
}

func folder(name string, children ...*node) *node {
	return &node{name: name, folders: children}
}

func withDocs(n *node, docs ...string) *node {
	n.docs = append(n.docs, docs...)
	return n
}

// fakeSession walks an in-memory tree and counts successful navigation.
type fakeSession struct {
	root *node
	path []*node

	descends int
	backs    int
	opens    int
	closes   int

	clickFailures map[string]int
	backFailures  int
	backBlocks    bool
	openErr       error
	onClick       func(name string)
}

func newFakeSession(root *node) *fakeSession {
	return &fakeSession{root: root, clickFailures: map[string]int{}}
}

func (s *fakeSession) browser() Browser {
	return BrowserFunc(func(context.Context) (Session, error) { return s, nil })
}

func (s *fakeSession) current() *node {
	return s.path[len(s.path)-1]
}

func (s *fakeSession) Open(context.Context, string) error {
	if s.openErr != nil && s.opens > 0 {
		return s.openErr
	}
	s.opens++
	s.path = []*node{s.root}
	return nil
}

func (s *fakeSession) Listing(context.Context) (Listing, error) {
	cur := s.current()
	if cur.listFailures > 0 {
		cur.listFailures--
		return Listing{}, errors.New("listing table re-rendered")
	}
	var out Listing
	for i, f := range cur.folders {
		out.Folders = append(out.Folders, Entry{Index: i, Name: f.name})
	}
	for i, d := range cur.docs {
		out.Documents = append(out.Documents, Entry{
			Index: len(cur.folders) + i,
			Name:  d,
			URL:   "https://portal.test/files/" + url.PathEscape(d),
		})
	}
	return out, nil
}

func (s *fakeSession) Click(_ context.Context, e Entry) error {
	if s.clickFailures[e.Name] > 0 {
		s.clickFailures[e.Name]--
		return errStale
	}
	cur := s.current()
	if e.Index < 0 || e.Index >= len(cur.folders) || cur.folders[e.Index].name != e.Name {
		return errStale
	}
	s.path = append(s.path, cur.folders[e.Index])
	s.descends++
	if s.onClick != nil {
		s.onClick(e.Name)
	}
	return nil
}

func (s *fakeSession) Back(ctx context.Context) error {
	if s.backBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if len(s.path) == 1 {
		return errors.New("already at root")
	}
	if s.backFailures > 0 {
		s.backFailures--
		return errors.New("back link not found")
	}
	s.path = s.path[:len(s.path)-1]
	s.backs++
	return nil
}

func (s *fakeSession) WaitReady(context.Context, time.Duration) bool { return true }

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}
