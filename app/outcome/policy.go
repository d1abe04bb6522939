package outcome

// Entry pages a provider redirect can land the user on.
const (
	PageSuccess = "success"
	PagePending = "pending"
	PageFailure = "failure"
)

type exitAction int

const (
	exitRender exitAction = iota
	exitRedirect
)

// PagePolicy captures the only behavioral difference between the three
// outcome pages: whether a terminal observation renders in place or
// redirects to the page that owns that narrative.
type PagePolicy struct {
	Page        string
	OnCompleted exitAction
	OnFailed    exitAction
}

func PolicyFor(page string) (PagePolicy, bool) {
	switch page {
	case PageSuccess:
		return PagePolicy{Page: PageSuccess, OnCompleted: exitRender, OnFailed: exitRender}, true
	case PagePending:
		return PagePolicy{Page: PagePending, OnCompleted: exitRedirect, OnFailed: exitRedirect}, true
	case PageFailure:
		return PagePolicy{Page: PageFailure, OnCompleted: exitRender, OnFailed: exitRender}, true
	default:
		return PagePolicy{}, false
	}
}
