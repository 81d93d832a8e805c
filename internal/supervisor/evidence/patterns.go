package evidence

import "regexp"

// Pattern tables are compiled once at init and treated as read-only
// configuration from then on; nothing mutates them at runtime, which is
// what keeps Extract purely functional and safe under concurrency.

var taskCompletePatterns = compileAll(
	`(?i)\btask\s+(is\s+)?(marked\s+(as\s+)?)?complete[d]?\b`,
	`(?i)\bmark(ing|ed)?\s+(the\s+)?task\s+(as\s+)?complete`,
	`(?i)\[task[-_ ]?complete\]`,
	`(?i)\ball\s+tasks?\s+complete[d]?\b`,
	`(?i)✅\s*task`,
)

var testsPassedPatterns = compileAll(
	`(?i)\ball\s+tests?\s+pass(ed|ing)?\b`,
	`(?i)\b[1-9]\d*\s+(tests?\s+)?passed\b.*\b0\s+failed\b`,
	`(?i)\btests?\s*:\s*[1-9]\d*\s+passed\b`,
	`(?i)\btest\s+suites?\s*:\s*[1-9]\d*\s+passed\b`,
	`(?im)^ok\s+\S+\s+[\d.]+s$`,
	`(?i)\b[1-9]\d*\s+passing\b`,
)

var buildSucceededPatterns = compileAll(
	`(?i)\bbuild\s+succe(eded|ssful)\b`,
	`(?i)\bbuild\s+(completed|finished)(\s+successfully)?\b`,
	`(?i)\bcompiled\s+successfully\b`,
	`(?im)^BUILD\s+SUCCESS(FUL)?\b`,
)

var commitMadePatterns = compileAll(
	// git's commit summary line: "[main abc1234] message"
	`\[[\w./-]+\s+[0-9a-f]{7,40}\]`,
	`(?i)\bcommitted\s+(changes|successfully)\b`,
	`(?i)\bcreated?\s+commit\b`,
	`(?i)\b\d+\s+files?\s+changed,\s+\d+\s+insertions?`,
)

var prCreatedPatterns = compileAll(
	`(?i)\bpull\s+request\s+(#\d+\s+)?(created|opened|submitted)\b`,
	`(?i)\bcreated?\s+(a\s+)?(draft\s+)?pull\s+request\b`,
	`https?://github\.com/[\w.-]+/[\w.-]+/pull/\d+`,
)

var explicitDonePatterns = compileAll(
	`(?im)^(all\s+)?done[.!]?\s*$`,
	`(?i)\bwork\s+is\s+(now\s+)?(done|finished|complete)\b`,
	`(?i)\bfinished\s+(the\s+|all\s+)?(task|work|implementation)\b`,
	`(?i)\bnothing\s+(left|more)\s+to\s+do\b`,
)

// errorClassTable binds an error class to its ordered matcher list.
type errorClassTable struct {
	class    ErrorClass
	patterns []*regexp.Regexp
}

// errorClassTables is ordered: the first table whose patterns match the
// scanned line decides the class. Compile beats test beats runtime beats
// permission.
var errorClassTables = []errorClassTable{
	{ErrorClassCompile, compileAll(
		`(?i)\bcannot\s+find\s+(module|package|symbol)\b`,
		`(?i)\bsyntax\s+error\b`,
		`(?i)\bcompil(e|ation)\s+(error|failed)\b`,
		`(?i)\bundefined\s+reference\b`,
		`(?i)\bundefined:\s+\S+`,
		`(?i)\berror\s+TS\d+\b`,
		`(?i)\bunresolved\s+import\b`,
		`(?i)\btype\s+error\b`,
	)},
	{ErrorClassTest, compileAll(
		`(?i)\b[1-9]\d*\s+(tests?\s+)?fail(ed|ing)\b`,
		`(?i)\btests?\s+fail(ed|ing)?\b`,
		`(?im)^FAIL\b`,
		`(?i)\bassertion\s+(error|failed)\b`,
		`(?i)\bexpected\s+.+\s+but\s+(got|was)\b`,
	)},
	{ErrorClassRuntime, compileAll(
		`(?i)\bpanic:\s`,
		`(?i)\bsegmentation\s+fault\b`,
		`(?i)\bunhandled\s+(exception|rejection)\b`,
		`(?i)\btraceback\s+\(most\s+recent\s+call\s+last\)`,
		`(?i)\bfatal\s+error\b`,
		`(?i)\bnull\s+pointer\b`,
		`(?i)\bstack\s+overflow\b`,
	)},
	{ErrorClassPermission, compileAll(
		`(?i)\bpermission\s+denied\b`,
		`(?i)\baccess\s+denied\b`,
		`(?i)\boperation\s+not\s+permitted\b`,
		`\bEACCES\b`,
		`\bEPERM\b`,
	)},
}

// genericErrorPatterns catch error phrasing that no class table claims.
var genericErrorPatterns = compileAll(
	`(?im)^\s*error\b\s*[:!]`,
	`(?i)\bcommand\s+not\s+found\b`,
	`(?i)\bexited\s+with\s+(code|status)\s+[1-9]\d*\b`,
	`(?i)\bsomething\s+went\s+wrong\b`,
)

var waitingInputPatterns = compileAll(
	`(?i)\bwaiting\s+for\s+(your\s+)?(input|response|reply)\b`,
	`(?i)\bpress\s+enter\s+to\s+continue\b`,
	`(?i)\bplease\s+(provide|enter|confirm|specify)\b`,
	`(?i)\bawaiting\s+(your\s+)?(input|instructions?)\b`,
	`(?i)\btip:\s+press\b`,
)

var waitingApprovalPatterns = compileAll(
	`(?i)\bwaiting\s+for\s+(your\s+)?approval\b`,
	`(?i)\bdo\s+you\s+want\s+to\s+(proceed|continue|allow)\b`,
	`(?i)\benter\s+to\s+select\b`,
	`(?i)\bneeds?\s+(your\s+)?approval\b`,
	`(?i)\[y/n\]`,
	`(?i)\(y/n\)`,
)

var askingQuestionPatterns = compileAll(
	`(?i)\bshould\s+i\b.*\?`,
	`(?i)\bwould\s+you\s+like\b.*\?`,
	`(?i)\bwhich\s+(option|approach|one)\b.*\?`,
	`(?i)\bcan\s+you\s+(clarify|confirm)\b`,
	`(?i)\bwhat\s+(would|should|do)\s+you\b.*\?`,
)

var waitingOtherAgentPatterns = compileAll(
	`(?i)\bwaiting\s+(for|on)\s+(the\s+)?(other|another)\s+agent\b`,
	`(?i)\bwaiting\s+(for|on)\s+agent\s+\S+`,
	`(?i)\bblocked\s+(by|on)\s+(the\s+)?agent\b`,
)

// barePromptPattern matches a line that is nothing but a shell or REPL
// prompt, optionally preceded by user@host / path decoration.
var barePromptPattern = regexp.MustCompile(`(^|[\w~/.:\]-])\s*[$%#>❯]\s*$`)

var toolExitPatterns = compileAll(
	`(?i)\bprocess\s+exited\b`,
	`(?i)\bsession\s+ended\b`,
	`(?i)\bagent\s+(has\s+)?exited\b`,
	`(?im)^\s*goodbye[.!]?\s*$`,
	`(?i)\bexiting\s*\.{0,3}\s*$`,
	`(?i)\bconnection\s+closed\b`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		patterns = append(patterns, regexp.MustCompile(expr))
	}
	return patterns
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
