package model

// Visible reports whether the story can be seen by viewer. A nil viewer is an
// anonymous reader. ignoreRisque lifts the risque gate (used when the caller
// has already decided maturity filtering separately).
//
// Authors always see their own stories except when the story is risque and the
// author has not opted in. For everyone else the private and protected bits
// both hide the story outright: protected has no allow-list, so it behaves
// exactly like private for third parties.
func (s *Story) Visible(viewer *User, ignoreRisque bool) bool {
	risqueHidden := s.Flags.Risque() &&
		(viewer == nil || !viewer.AllowRisque) &&
		!ignoreRisque

	if viewer != nil && viewer.ID == s.AuthorID {
		return !risqueHidden
	}
	return !s.Flags.Private() && !s.Flags.Protected() && !risqueHidden
}

// Visible reports whether the chapter can be seen by viewer. story must be the
// chapter's parent. The story's author sees every chapter; anyone else needs
// the parent story visible and the chapter's own private/protected bits clear.
func (c *Chapter) Visible(story *Story, viewer *User, ignoreRisque bool) bool {
	if viewer != nil && viewer.ID == story.AuthorID {
		return true
	}
	if !story.Visible(viewer, ignoreRisque) {
		return false
	}
	return c.SelfVisible()
}

// SelfVisible reports whether the chapter's own flags permit public viewing,
// independent of its parent story.
func (c *Chapter) SelfVisible() bool {
	return c.Flags&(ChapterPrivate|ChapterProtected) == 0
}

// ListableBy reports whether the story belongs in general listings shown to
// viewer: private/protected bits clear and, unless the viewer opted in, the
// risque bit clear. Unlike Visible this intentionally excludes the viewer's
// own private stories; it answers "what can the public see", and is the base
// filter every search and listing endpoint applies first.
func (s *Story) ListableBy(viewer *User) bool {
	if s.Flags.Private() || s.Flags.Protected() {
		return false
	}
	if s.Flags.Risque() && (viewer == nil || !viewer.AllowRisque) {
		return false
	}
	return true
}
