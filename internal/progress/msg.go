// Package progress renders tool-server loading progress for humans. Nothing
// in the loading logic depends on these messages being consumed.
package progress

// Msg is one loading event. Time fields are elapsed seconds formatted "%.2f".
type Msg interface {
	isMsg()
}

// Done reports a server that loaded cleanly.
type Done struct {
	Name string
	Time string
}

// Error reports a server that failed to load.
type Error struct {
	Name    string
	Message string
	Time    string
}

// Warn reports a server that loaded with out-of-spec tools excluded.
type Warn struct {
	Name    string
	Message string
	Time    string
}

// SignInNotice reports a server waiting for the user to sign in.
type SignInNotice struct {
	Name string
}

// Terminate ends the display, listing servers that have not finished.
type Terminate struct {
	StillLoading []string
}

func (Done) isMsg()         {}
func (Error) isMsg()        {}
func (Warn) isMsg()         {}
func (SignInNotice) isMsg() {}
func (Terminate) isMsg()    {}
