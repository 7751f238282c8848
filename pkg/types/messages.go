package types

// Client -> Server
//
//	SubmitAnswer: claims_anomaly
//	StartGame:    stage_index (defaults to 0)
//	ResetGame:    {}
type ClientMessage struct {
	Type          string `json:"type"`
	ClaimsAnomaly bool   `json:"claims_anomaly,omitempty"`
	StageIndex    int    `json:"stage_index,omitempty"`
}

const (
	MsgSubmitAnswer = "SubmitAnswer"
	MsgStartGame    = "StartGame"
	MsgResetGame    = "ResetGame"
)

// Server -> Client
//
//	Welcome:       actor (pass back as ?player= to reconnect)
//	View:          view
//	Notify:        notification
//	Teleport:      target
//	Bgm:           track
//	InputDisabled: {}
//	Error:         error
type ServerMessage struct {
	Type         string        `json:"type"`
	Actor        string        `json:"actor,omitempty"`
	View         *ViewSnapshot `json:"view,omitempty"`
	Notification string        `json:"notification,omitempty"`
	Target       string        `json:"target,omitempty"`
	Track        string        `json:"track,omitempty"`
	Error        string        `json:"error,omitempty"`
}

const (
	MsgWelcome       = "Welcome"
	MsgView          = "View"
	MsgNotify        = "Notify"
	MsgTeleport      = "Teleport"
	MsgBgm           = "Bgm"
	MsgInputDisabled = "InputDisabled"
	MsgError         = "Error"
)

const (
	NotifyGameStarted   = "game_started"
	NotifyCorrectAnswer = "correct_answer"
	NotifyWrongAnswer   = "wrong_answer"
	NotifyStageCleared  = "stage_cleared"
)
