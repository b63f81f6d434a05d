package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/camelmail/camelstore/framework/exterrors"
	"github.com/camelmail/camelstore/store"
)

// foldCaser performs Unicode-aware caseless matching (§4.4: header/body
// word comparisons must not depend on ASCII-only folding, e.g. "İstanbul"
// vs "istanbul" under different locales). SQL-side narrowing still uses
// SQLite's own ASCII LOWER() as a coarse pre-filter; foldCaser is applied
// in the residual Go predicate that re-confirms every candidate.
var foldCaser = cases.Fold()

func foldCI(s string) string {
	return foldCaser.String(s)
}

// EvalContext supplies the per-folder services a compiled residual
// predicate may need: header/body fallback scans, addressbook lookups,
// in-scope match indexes, and the current time. Exactly one EvalContext
// is used per folder per rebuild.
type EvalContext struct {
	StoreID    string
	FolderID   int64
	FolderName string
	Now        int64

	HeaderSearch        func(headerName string, words []string) ([]string, error)
	BodySearch          func(words []string) ([]string, error)
	AddressbookContains func(bookUID, email string) (bool, error)
	MatchIndexes        map[int64]*MatchIndex

	headerCache map[string]map[string]bool
	bodyCache   map[string]map[string]bool
}

func (ctx *EvalContext) cachedHeaderSet(name string, words []string) (map[string]bool, error) {
	if ctx.headerCache == nil {
		ctx.headerCache = make(map[string]map[string]bool)
	}
	key := strings.ToLower(name) + "\x00" + strings.Join(words, "\x00")
	if set, ok := ctx.headerCache[key]; ok {
		return set, nil
	}
	uids, err := ctx.HeaderSearch(name, words)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(uids))
	for _, u := range uids {
		set[u] = true
	}
	ctx.headerCache[key] = set
	return set, nil
}

func (ctx *EvalContext) cachedBodySet(words []string) (map[string]bool, error) {
	if ctx.bodyCache == nil {
		ctx.bodyCache = make(map[string]map[string]bool)
	}
	key := strings.Join(words, "\x00")
	if set, ok := ctx.bodyCache[key]; ok {
		return set, nil
	}
	uids, err := ctx.BodySearch(words)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(uids))
	for _, u := range uids {
		set[u] = true
	}
	ctx.bodyCache[key] = set
	return set, nil
}

// evalFunc is a row-level residual predicate or value accessor.
type evalFunc func(row store.MessageRecord, ctx *EvalContext) (bool, error)
type valueFunc func(row store.MessageRecord, ctx *EvalContext) (int64, error)
type prepareFunc func(ctx *EvalContext) error

// ThreadInfo describes a `match-threads` operator found anywhere in a
// compiled expression (§4.4.4).
type ThreadInfo struct {
	Present   bool
	Mode      string // single | all | replies | replies_parents
	NoSubject bool
}

// Compiled is the result of Compile: a SQL WHERE fragment (candidate
// narrowing), a residual predicate re-confirming the full semantics row
// by row, any folder-level prepare steps the residual needs run first,
// and thread-expansion metadata (§4.4.4).
type Compiled struct {
	SQL    string
	Args   []interface{}
	Eval   evalFunc
	Thread ThreadInfo

	prepares []prepareFunc
}

// Prepare runs every registered folder-level scan (header/body fallback)
// exactly once, populating ctx's caches before Eval is called per row.
func (c *Compiled) Prepare(ctx *EvalContext) error {
	for _, p := range c.prepares {
		if err := p(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Compile parses-and-compiles is not performed here; callers first call
// Parse, then Compile on the resulting AST (§4.4.2).
func Compile(root *Node) (*Compiled, error) {
	c := &boolCompiler{}
	eval, sql, args, err := c.compileBool(root)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: sql, Args: args, Eval: eval, Thread: c.thread, prepares: c.prepares}, nil
}

type boolCompiler struct {
	prepares []prepareFunc
	thread   ThreadInfo
}

var envelopeColumns = map[string]string{
	"subject": "subject",
	"from":    "author",
	"to":      "to_addr",
	"cc":      "cc_addr",
	"mlist":   "mlist",
}

var systemFlagBits = map[string]store.Flags{
	"seen":         store.FlagSeen,
	"read":         store.FlagSeen,
	"deleted":      store.FlagDeleted,
	"answered":     store.FlagAnswered,
	"replied":      store.FlagAnswered,
	"flagged":      store.FlagFlagged,
	"draft":        store.FlagDraft,
	"attachments":  store.FlagAttachments,
	"junk":         store.FlagJunk,
	"junk-learn":   store.FlagJunkLearn,
	"junk_learn":   store.FlagJunkLearn,
	"secure":       store.FlagSecure,
	"notjunk":      store.FlagNotJunk,
	"not-junk":     store.FlagNotJunk,
}

func argPlaceholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// compileBool compiles n as a boolean predicate, returning a residual
// Eval (always correct, the source of truth), a SQL fragment that may
// narrow the candidate set ("1" meaning no narrowing), and its args.
func (c *boolCompiler) compileBool(n *Node) (evalFunc, string, []interface{}, error) {
	if n == nil {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: nil node")
	}
	if n.Kind == KindSymbol {
		switch strings.ToLower(n.Sym) {
		case "#t":
			return func(store.MessageRecord, *EvalContext) (bool, error) { return true, nil }, "1", nil, nil
		case "#f":
			return func(store.MessageRecord, *EvalContext) (bool, error) { return false, nil }, "0", nil, nil
		}
	}
	op := n.Operator()
	if op == "" {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: expected boolean expression, got %s", n.String())
	}

	args := n.Args()
	switch op {
	case "and":
		return c.compileAndOr(args, true)
	case "or":
		return c.compileAndOr(args, false)
	case "not":
		if len(args) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: (not e) takes exactly one argument")
		}
		eval, sql, sqlArgs, err := c.compileBool(args[0])
		if err != nil {
			return nil, "", nil, err
		}
		negSQL := "1"
		if sql != "1" {
			negSQL = "(NOT " + sql + ")"
		}
		return func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
			ok, err := eval(row, ctx)
			return !ok, err
		}, negSQL, sqlArgs, nil
	case "match-all":
		if len(args) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: (match-all e) takes exactly one argument")
		}
		return c.compileBool(args[0])
	case "=", "<", ">":
		return c.compileComparison(op, args)
	case "header-contains", "header-matches", "header-starts-with", "header-ends-with",
		"header-has-words", "header-soundex", "header-exists", "header-regex", "header-full-regex":
		return c.compileHeaderPredicate(op, args)
	case "body-contains", "body-regex":
		return c.compileBodyPredicate(op, args)
	case "from", "to", "cc", "mlist":
		return c.compileAddressColumn(op, args)
	case "bcc":
		// §3.2's message record carries no bcc column; no result can ever
		// match a bcc predicate.
		return func(store.MessageRecord, *EvalContext) (bool, error) { return false, nil }, "0", nil, nil
	case "message-id", "x-camel-msgid":
		return c.compileMessageIDPredicate(args)
	case "system-flag":
		return c.compileSystemFlag(args)
	case "user-flag":
		return c.compileUserFlag(args)
	case "user-tag":
		return c.compileUserTag(args)
	case "uid":
		return c.compileUIDPredicate(args)
	case "message-location":
		return c.compileMessageLocation(args)
	case "addressbook-contains":
		return c.compileAddressbookContains(args)
	case "in-match-index":
		return c.compileInMatchIndex(args)
	case "match-threads":
		return c.compileMatchThreads(args)
	default:
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: unknown operator %q", op)
	}
}

func (c *boolCompiler) compileAndOr(args []*Node, isAnd bool) (evalFunc, string, []interface{}, error) {
	var evals []evalFunc
	var sqlParts []string
	var allArgs []interface{}
	anyUnconstrained := false
	for _, a := range args {
		eval, sql, sqlArgs, err := c.compileBool(a)
		if err != nil {
			return nil, "", nil, err
		}
		evals = append(evals, eval)
		allArgs = append(allArgs, sqlArgs...)
		if sql == "1" {
			anyUnconstrained = true
		}
		sqlParts = append(sqlParts, sql)
	}

	eval := func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
		for _, e := range evals {
			ok, err := e(row, ctx)
			if err != nil {
				return false, err
			}
			if isAnd && !ok {
				return false, nil
			}
			if !isAnd && ok {
				return true, nil
			}
		}
		return isAnd, nil
	}

	if isAnd {
		// AND narrows with whichever children have real SQL; "1" terms
		// contribute nothing and are dropped.
		var narrow []string
		for _, s := range sqlParts {
			if s != "1" {
				narrow = append(narrow, s)
			}
		}
		if len(narrow) == 0 {
			return eval, "1", allArgs, nil
		}
		return eval, "(" + strings.Join(narrow, " AND ") + ")", allArgs, nil
	}

	// OR can only narrow via SQL if every child narrows; otherwise a
	// residual-only child could match rows the SQL excluded.
	if anyUnconstrained {
		return eval, "1", nil, nil
	}
	return eval, "(" + strings.Join(sqlParts, " OR ") + ")", allArgs, nil
}

func wordsFrom(nodes []*Node) ([]string, error) {
	words := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s, ok := stringValue(n)
		if !ok {
			return nil, exterrors.New(exterrors.KindParse, "search: expected string/word, got %s", n.String())
		}
		words = append(words, s)
	}
	return words, nil
}

func containsAllWordsCI(haystack string, words []string) bool {
	folded := foldCI(haystack)
	for _, w := range words {
		if !strings.Contains(folded, foldCI(w)) {
			return false
		}
	}
	return true
}

func (c *boolCompiler) compileHeaderPredicate(op string, args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) < 1 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: (%s NAME WORD...) needs a header name", op)
	}
	name, ok := stringValue(args[0])
	if !ok {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: %s: header name must be a string", op)
	}
	words, err := wordsFrom(args[1:])
	if err != nil {
		return nil, "", nil, err
	}

	lname := strings.ToLower(name)
	if lname == "message-id" || lname == "x-camel-msgid" {
		return c.compileMessageIDPredicate(args[1:])
	}

	col, known := envelopeColumns[lname]
	if known {
		return compileEnvelopeHeader(op, col, words)
	}

	if lname == "" {
		// NAME = "" matches any header: approximate with an OR over the
		// envelope columns this record actually carries plus the opaque
		// captured user headers blob, since raw per-header storage
		// beyond the envelope fields is outside §3.2's schema.
		return compileAnyHeader(op, words)
	}

	// Unknown header name: needs a per-folder header scan (§4.6
	// search_header_sync).
	return c.compileFolderHeaderScan(name, words)
}

func compileEnvelopeHeader(op, col string, words []string) (evalFunc, string, []interface{}, error) {
	getField := func(row store.MessageRecord) string {
		switch col {
		case "subject":
			return row.Subject
		case "author":
			return row.From
		case "to_addr":
			return row.To
		case "cc_addr":
			return row.Cc
		case "mlist":
			return row.MList
		}
		return ""
	}
	switch op {
	case "header-matches":
		if len(words) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: header-matches takes exactly one value")
		}
		sqlWant := strings.ToLower(strings.TrimSpace(words[0]))
		foldWant := foldCI(strings.TrimSpace(words[0]))
		eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
			return foldCI(strings.TrimSpace(getField(row))) == foldWant, nil
		}
		return eval, "(LOWER(TRIM(" + col + "))=?)", []interface{}{sqlWant}, nil
	case "header-starts-with":
		if len(words) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: header-starts-with takes exactly one value")
		}
		sqlWant := strings.ToLower(words[0])
		foldWant := foldCI(words[0])
		eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
			return strings.HasPrefix(foldCI(getField(row)), foldWant), nil
		}
		return eval, "(LOWER(" + col + ") LIKE ?)", []interface{}{sqlWant + "%"}, nil
	case "header-ends-with":
		if len(words) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: header-ends-with takes exactly one value")
		}
		sqlWant := strings.ToLower(words[0])
		foldWant := foldCI(words[0])
		eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
			return strings.HasSuffix(foldCI(getField(row)), foldWant), nil
		}
		return eval, "(LOWER(" + col + ") LIKE ?)", []interface{}{"%" + sqlWant}, nil
	case "header-exists":
		eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
			return getField(row) != "", nil
		}
		return eval, "(" + col + "<>'')", nil, nil
	case "header-regex", "header-full-regex":
		if len(words) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: %s takes exactly one pattern", op)
		}
		re, err := regexp.Compile(words[0])
		if err != nil {
			return nil, "", nil, exterrors.Wrap(exterrors.KindParse, err, "search: invalid regex %q", words[0])
		}
		eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
			return re.MatchString(getField(row)), nil
		}
		return eval, "1", nil, nil
	case "header-soundex":
		if len(words) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: header-soundex takes exactly one value")
		}
		want := soundex(words[0])
		eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
			for _, w := range strings.Fields(getField(row)) {
				if soundex(w) == want {
					return true, nil
				}
			}
			return false, nil
		}
		return eval, "1", nil, nil
	default: // header-contains, header-has-words
		eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
			return containsAllWordsCI(getField(row), words), nil
		}
		if len(words) == 0 {
			return eval, "1", nil, nil
		}
		var parts []string
		var sqlArgs []interface{}
		for _, w := range words {
			parts = append(parts, "(LOWER("+col+") LIKE ?)")
			sqlArgs = append(sqlArgs, "%"+strings.ToLower(w)+"%")
		}
		return eval, "(" + strings.Join(parts, " AND ") + ")", sqlArgs, nil
	}
}

func compileAnyHeader(op string, words []string) (evalFunc, string, []interface{}, error) {
	eval := func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
		haystacks := []string{row.Subject, row.From, row.To, row.Cc, row.MList, row.UserHeaders}
		for _, h := range haystacks {
			if containsAllWordsCI(h, words) {
				return true, nil
			}
		}
		return false, nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileFolderHeaderScan(name string, words []string) (evalFunc, string, []interface{}, error) {
	c.prepares = append(c.prepares, func(ctx *EvalContext) error {
		_, err := ctx.cachedHeaderSet(name, words)
		return err
	})
	eval := func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
		set, err := ctx.cachedHeaderSet(name, words)
		if err != nil {
			return false, err
		}
		return set[row.UID], nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileBodyPredicate(op string, args []*Node) (evalFunc, string, []interface{}, error) {
	var words []string
	var re *regexp.Regexp
	if op == "body-regex" {
		if len(args) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: body-regex takes exactly one pattern")
		}
		pat, ok := stringValue(args[0])
		if !ok {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: body-regex pattern must be a string")
		}
		var err error
		re, err = regexp.Compile(pat)
		if err != nil {
			return nil, "", nil, exterrors.Wrap(exterrors.KindParse, err, "search: invalid regex %q", pat)
		}
		words = []string{pat}
	} else {
		var err error
		words, err = wordsFrom(args)
		if err != nil {
			return nil, "", nil, err
		}
	}

	c.prepares = append(c.prepares, func(ctx *EvalContext) error {
		_, err := ctx.cachedBodySet(words)
		return err
	})
	_ = re // body content itself is fetched by the folder, not here
	eval := func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
		set, err := ctx.cachedBodySet(words)
		if err != nil {
			return false, err
		}
		return set[row.UID], nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileAddressColumn(op string, args []*Node) (evalFunc, string, []interface{}, error) {
	words, err := wordsFrom(args)
	if err != nil {
		return nil, "", nil, err
	}
	return compileEnvelopeHeader("header-contains", envelopeColumns[op], words)
}

func (c *boolCompiler) compileMessageIDPredicate(args []*Node) (evalFunc, string, []interface{}, error) {
	words, err := wordsFrom(args)
	if err != nil {
		return nil, "", nil, err
	}
	wanted := make([]uint64, 0, len(words))
	for _, w := range words {
		wanted = append(wanted, HashMessageID(w))
	}
	eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
		own, refs := DecodePart(row.Part)
		for _, w := range wanted {
			if own == w {
				return true, nil
			}
			for _, r := range refs {
				if r == w {
					return true, nil
				}
			}
		}
		return false, nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileSystemFlag(args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) != 1 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: system-flag takes exactly one name")
	}
	name, ok := stringValue(args[0])
	if !ok {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: system-flag name must be a string")
	}
	bit, known := systemFlagBits[strings.ToLower(name)]
	if !known {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: unknown system flag %q", name)
	}
	eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
		return row.Flags.Has(bit), nil
	}
	return eval, "((flags & ?) = ?)", []interface{}{int64(bit), int64(bit)}, nil
}

func (c *boolCompiler) compileUserFlag(args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) != 1 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: user-flag takes exactly one name")
	}
	name, ok := stringValue(args[0])
	if !ok {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: user-flag name must be a string")
	}
	eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
		for _, l := range row.Labels {
			if l == name {
				return true, nil
			}
		}
		return false, nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileUserTag(args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) != 1 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: user-tag takes exactly one name")
	}
	name, ok := stringValue(args[0])
	if !ok {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: user-tag name must be a string")
	}
	eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
		_, present := store.UserTagValue(row.UserTags, name)
		return present, nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileUIDPredicate(args []*Node) (evalFunc, string, []interface{}, error) {
	uids, err := wordsFrom(args)
	if err != nil {
		return nil, "", nil, err
	}
	set := make(map[string]bool, len(uids))
	sqlArgs := make([]interface{}, len(uids))
	for i, u := range uids {
		set[u] = true
		sqlArgs[i] = u
	}
	eval := func(row store.MessageRecord, _ *EvalContext) (bool, error) {
		return set[row.UID], nil
	}
	if len(uids) == 0 {
		return func(store.MessageRecord, *EvalContext) (bool, error) { return false, nil }, "0", nil, nil
	}
	return eval, "(uid IN (" + argPlaceholders(len(uids)) + "))", sqlArgs, nil
}

func (c *boolCompiler) compileMessageLocation(args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) != 1 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: message-location takes exactly one URI")
	}
	uri, ok := stringValue(args[0])
	if !ok {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: message-location URI must be a string")
	}
	rest := strings.TrimPrefix(uri, "folder://")
	storeID, folderName, _ := strings.Cut(rest, "/")
	eval := func(_ store.MessageRecord, ctx *EvalContext) (bool, error) {
		return ctx.StoreID == storeID && ctx.FolderName == folderName, nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileAddressbookContains(args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) != 2 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: addressbook-contains takes (book-uid field)")
	}
	bookUID, ok1 := stringValue(args[0])
	field, ok2 := stringValue(args[1])
	if !ok1 || !ok2 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: addressbook-contains arguments must be strings")
	}
	eval := func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
		if ctx.AddressbookContains == nil {
			return false, nil
		}
		var email string
		switch strings.ToLower(field) {
		case "to":
			email = row.To
		case "cc":
			email = row.Cc
		default:
			email = row.From
		}
		return ctx.AddressbookContains(bookUID, email)
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileInMatchIndex(args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) != 1 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: in-match-index takes exactly one handle")
	}
	if args[0].Kind != KindNumber {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: in-match-index handle must be a number")
	}
	handle := int64(args[0].Num)
	eval := func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
		idx := ctx.MatchIndexes[handle]
		if idx == nil {
			return false, nil
		}
		return idx.Contains(ctx.StoreID, ctx.FolderID, row.UID), nil
	}
	return eval, "1", nil, nil
}

func (c *boolCompiler) compileMatchThreads(args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) < 2 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: match-threads takes (mode inner-e)")
	}
	mode, ok := stringValue(args[0])
	if !ok {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: match-threads mode must be a string")
	}
	noSubject := false
	if strings.HasPrefix(strings.ToLower(mode), "no-subject") {
		noSubject = true
		mode = strings.TrimPrefix(mode, "no-subject")
		mode = strings.TrimPrefix(mode, ",")
		mode = strings.TrimSpace(mode)
	}
	c.thread = ThreadInfo{Present: true, Mode: strings.ToLower(mode), NoSubject: noSubject}
	return c.compileBool(args[1])
}

func (c *boolCompiler) compileComparison(op string, args []*Node) (evalFunc, string, []interface{}, error) {
	if len(args) != 2 {
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: (%s a b) takes exactly two arguments", op)
	}
	lv, lsql, largs, err := c.compileValue(args[0])
	if err != nil {
		return nil, "", nil, err
	}
	rv, rsql, rargs, err := c.compileValue(args[1])
	if err != nil {
		return nil, "", nil, err
	}

	eval := func(row store.MessageRecord, ctx *EvalContext) (bool, error) {
		a, err := lv(row, ctx)
		if err != nil {
			return false, err
		}
		b, err := rv(row, ctx)
		if err != nil {
			return false, err
		}
		switch op {
		case "=":
			return a == b, nil
		case "<":
			return a < b, nil
		default:
			return a > b, nil
		}
	}

	if lsql == "" || rsql == "" {
		return eval, "1", nil, nil
	}
	sqlArgs := append(append([]interface{}{}, largs...), rargs...)
	return eval, "(" + lsql + " " + op + " " + rsql + ")", sqlArgs, nil
}

// compileValue compiles n as an integer-valued expression. sql is "" if
// n cannot be expressed as a SQL scalar.
func (c *boolCompiler) compileValue(n *Node) (valueFunc, string, []interface{}, error) {
	if n.Kind == KindNumber {
		v := int64(n.Num)
		return func(store.MessageRecord, *EvalContext) (int64, error) { return v, nil }, strconv.FormatInt(v, 10), nil, nil
	}

	op := n.Operator()
	args := n.Args()
	switch op {
	case "get-sent-date":
		return func(row store.MessageRecord, _ *EvalContext) (int64, error) { return row.DSent, nil }, "dsent", nil, nil
	case "get-received-date":
		return func(row store.MessageRecord, _ *EvalContext) (int64, error) { return row.DReceived, nil }, "dreceived", nil, nil
	case "get-size":
		return func(row store.MessageRecord, _ *EvalContext) (int64, error) { return row.Size / 1024, nil }, "(size/1024)", nil, nil
	case "get-current-date":
		return func(_ store.MessageRecord, ctx *EvalContext) (int64, error) { return ctx.Now, nil }, "", nil, nil
	case "get-relative-months":
		if len(args) != 1 || args[0].Kind != KindNumber {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: get-relative-months takes exactly one number")
		}
		months := int(args[0].Num)
		return func(_ store.MessageRecord, ctx *EvalContext) (int64, error) {
			return time.Unix(ctx.Now, 0).UTC().AddDate(0, months, 0).Unix(), nil
		}, "", nil, nil
	case "make-time":
		if len(args) != 1 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: make-time takes exactly one string")
		}
		s, ok := stringValue(args[0])
		if !ok {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: make-time argument must be a string")
		}
		ts, err := parseTime(s)
		if err != nil {
			return nil, "", nil, err
		}
		return func(store.MessageRecord, *EvalContext) (int64, error) { return ts, nil }, "", nil, nil
	case "compare-date":
		if len(args) != 2 {
			return nil, "", nil, exterrors.New(exterrors.KindParse, "search: compare-date takes exactly two arguments")
		}
		av, _, _, err := c.compileValue(args[0])
		if err != nil {
			return nil, "", nil, err
		}
		bv, _, _, err := c.compileValue(args[1])
		if err != nil {
			return nil, "", nil, err
		}
		return func(row store.MessageRecord, ctx *EvalContext) (int64, error) {
			a, err := av(row, ctx)
			if err != nil {
				return 0, err
			}
			b, err := bv(row, ctx)
			if err != nil {
				return 0, err
			}
			ad, bd := a/86400, b/86400
			switch {
			case ad < bd:
				return -1, nil
			case ad > bd:
				return 1, nil
			default:
				return 0, nil
			}
		}, "", nil, nil
	default:
		return nil, "", nil, exterrors.New(exterrors.KindParse, "search: %s is not a value expression", n.String())
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (int64, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, exterrors.New(exterrors.KindParse, "search: make-time: unrecognized time %q", s)
}

// soundex implements the classic American Soundex algorithm: no library
// in the retrieved pack offers it, and the algorithm is a short,
// self-contained table lookup rather than a concern worth an external
// dependency.
func soundex(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	code := func(r byte) byte {
		switch r {
		case 'B', 'F', 'P', 'V':
			return '1'
		case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
			return '2'
		case 'D', 'T':
			return '3'
		case 'L':
			return '4'
		case 'M', 'N':
			return '5'
		case 'R':
			return '6'
		default:
			return 0
		}
	}
	var b strings.Builder
	b.WriteByte(s[0])
	last := code(s[0])
	for i := 1; i < len(s) && b.Len() < 4; i++ {
		c := code(s[i])
		if c != 0 && c != last {
			b.WriteByte(c)
		}
		if s[i] != 'H' && s[i] != 'W' {
			last = c
		}
	}
	for b.Len() < 4 {
		b.WriteByte('0')
	}
	return b.String()
}
