package terror

// I/O errors
const (
	codeIO ErrCode = iota + 1
	codeShortRead
)

// 存储结构损坏
const (
	codeCorrupt ErrCode = iota + 1
	codeBadHeader
	codeBadPage
	codeCycle
)

// 约束错误
const (
	codeConstraint ErrCode = iota + 1
	codeUnique
	codeKeyTooLarge
)

var (
	ErrIO        = ClassIO.New(codeIO, "disk I/O error")
	ErrShortRead = ClassIO.New(codeShortRead, "short read")

	ErrCorrupt   = ClassCorrupt.New(codeCorrupt, "database disk image is malformed")
	ErrBadHeader = ClassCorrupt.New(codeBadHeader, "invalid database header")
	ErrBadPage   = ClassCorrupt.New(codeBadPage, "invalid page")
	ErrCycle     = ClassCorrupt.New(codeCycle, "page referenced twice")

	ErrConstraint  = ClassConstraint.New(codeConstraint, "constraint failed")
	ErrUnique      = ClassConstraint.New(codeUnique, "UNIQUE constraint failed")
	ErrKeyTooLarge = ClassConstraint.New(codeKeyTooLarge, "key too large")

	// ErrSchemaChanged is a control signal: the program must be recompiled.
	ErrSchemaChanged = ClassSchema.New(1, "database schema has changed")

	ErrType = ClassType.New(1, "datatype mismatch")

	ErrBusy       = ClassBusy.New(1, "database is locked")
	ErrOutOfSpace = ClassFull.New(1, "database or disk is full")

	ErrMisuse      = ClassMisuse.New(1, "library routine called out of sequence")
	ErrReadOnly    = ClassMisuse.New(2, "attempt to write a readonly transaction")
	ErrTxDone      = ClassMisuse.New(3, "transaction already finished")
	ErrInterrupted = ClassInterrupt.New(1, "interrupted")
	ErrInternal    = ClassInternal.New(1, "internal error")
)
