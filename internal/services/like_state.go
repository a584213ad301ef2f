package services

// LikeStatus is where one comment's like state sits for the current viewer.
type LikeStatus int

const (
	LikeUnknown LikeStatus = iota
	LikeLiked
	LikeNotLiked
	LikePending
	LikeConfirmed
	LikeRolledBack
)

func (s LikeStatus) String() string {
	switch s {
	case LikeLiked:
		return "liked"
	case LikeNotLiked:
		return "not_liked"
	case LikePending:
		return "pending"
	case LikeConfirmed:
		return "confirmed"
	case LikeRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// likeEntry tracks the visible like flag and counter for one comment, plus
// the baseline a failed toggle returns to.
type likeEntry struct {
	status LikeStatus
	liked  bool
	count  int

	prevLiked bool
	prevCount int
	// seq identifies the newest toggle; only it may settle the entry
	seq uint64
}

// settle records authoritative values from a load. Pending entries keep
// their optimistic values until their toggle resolves.
func (e *likeEntry) settle(liked bool, count int, known bool) {
	if e.status == LikePending {
		return
	}
	e.count = count
	e.liked = liked
	switch {
	case !known:
		e.status = LikeUnknown
	case liked:
		e.status = LikeLiked
	default:
		e.status = LikeNotLiked
	}
}

// begin applies the optimistic flip and returns the toggle's ticket.
func (e *likeEntry) begin() uint64 {
	e.prevLiked, e.prevCount = e.liked, e.count
	if e.liked {
		e.count--
		if e.count < 0 {
			e.count = 0
		}
	} else {
		e.count++
	}
	e.liked = !e.liked
	e.status = LikePending
	e.seq++
	return e.seq
}

// confirm stores the server's answer. An answer for a superseded toggle
// only moves the baseline the newer toggle would roll back to.
func (e *likeEntry) confirm(seq uint64, count int, liked bool) {
	if seq != e.seq {
		e.prevLiked, e.prevCount = liked, count
		return
	}
	e.liked, e.count = liked, count
	e.status = LikeConfirmed
}

// rollback restores the baseline and reports whether anything changed. A
// failed superseded toggle never reached the store, so it is taken back out
// of the baseline the newer toggle would return to.
func (e *likeEntry) rollback(seq uint64) bool {
	if e.status != LikePending {
		return false
	}
	if seq != e.seq {
		if e.prevLiked {
			e.prevCount--
			if e.prevCount < 0 {
				e.prevCount = 0
			}
		} else {
			e.prevCount++
		}
		e.prevLiked = !e.prevLiked
		return false
	}
	e.liked, e.count = e.prevLiked, e.prevCount
	e.status = LikeRolledBack
	return true
}
