package vm

import (
	"github.com/tliron/commonlog"
)

// Package-scoped loggers. Soft legacy warnings (mismatched comparisons,
// stale handle touches) go to vmLog; script `put` output goes to putLog in
// addition to the player's console writer.
var (
	vmLog  = commonlog.GetLogger("lingo.vm")
	putLog = commonlog.GetLogger("lingo.put")
)
