package session

// Level is the severity of a user-visible notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// User-visible notice texts.
const (
	msgStarted        = "Pair programming session started!"
	msgAlreadyRunning = "Pair programming session is already running."
	msgNoDocuments    = "No open documents yet; new documents are watched as they open."
	msgStopped        = "Pair programming session stopped."
	msgPaused         = "Pair programming paused."
	msgResumed        = "Pair programming resumed."
	msgNotRunning     = "Pair programming session is not running."
	msgNoModel        = "No chat models available"
	msgBusy           = "Still waiting for the previous reply; this change was not sent."
	msgNothingToSend  = "No changes to send."
	msgEmptyReply     = "The model returned an empty reply."
)

// Notifier shows notices to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

type discardNotifier struct{}

func (discardNotifier) Notify(Level, string) {}
