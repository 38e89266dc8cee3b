package common

import "fmt"

var (
	ErrBundleNotFoundError              = fmt.Errorf("bundle not found")
	ErrBundleEmptyError                 = fmt.Errorf("bundle has no links")
	ErrPageNotFoundError                = fmt.Errorf("page not found")
	ErrNoValidVideosError               = fmt.Errorf("no valid videos to download")
	ErrIndexingProcessHasAlreadyStarted = fmt.Errorf("indexing process has already started")
	ErrNoBundlesFoundError              = fmt.Errorf("no bundles found")
)
