package engine

type Track string

const (
	TrackNone    Track = ""
	TrackPreGame Track = "pregame"
	TrackInGame  Track = "ingame"
	TrackClear   Track = "clear"
)

// Teleport destinations that do not belong to a stage.
const (
	DestSpawn      = "spawn"
	DestStageStart = "start"
	DestExit       = "exit"
	DestBan        = "ban"
)

// StageState is what one stage shows after a projection.
type StageState struct {
	Name    string
	Active  bool
	Variant int8 // Unset shows the normal configuration
	Markers []bool
	Cleared bool
}

type View struct {
	Phase        Phase
	ActiveStage  int8
	SuccessCount int8
	Stages       []StageState
	Teleport     string
	BGM          Track
	Banned       bool
}

// Project derives everything a participant shows from the replicated
// record alone. It allocates a fresh View and never reads ambient state,
// so identical inputs give identical views on every participant.
func Project(s State, stages []StageConfig, banned bool) View {
	phase := DerivePhase(s, stages)
	if banned {
		v := idleView(stages)
		v.Banned = true
		v.Teleport = DestBan
		v.BGM = TrackNone
		return v
	}
	if phase == PhaseNotStarted {
		return idleView(stages)
	}

	active := int(s.StageIndex)
	cfg := stages[active]
	count := s.SuccessCount
	if int(count) > cfg.Target {
		count = int8(cfg.Target)
	}

	v := idleView(stages)
	v.Phase = phase
	v.ActiveStage = s.StageIndex
	v.SuccessCount = count

	st := &v.Stages[active]
	st.Active = true
	if s.VariantIndex >= 0 && int(s.VariantIndex) < cfg.VariantCount {
		st.Variant = s.VariantIndex
	}
	if cfg.MarkersMatch() {
		for i := range st.Markers {
			st.Markers[i] = i < int(count)
		}
	}

	switch phase {
	case PhaseCompleted:
		st.Cleared = true
		v.Teleport = DestExit
		v.BGM = TrackClear
	default:
		v.Teleport = cfg.StartPoint
		if v.Teleport == "" {
			v.Teleport = DestStageStart
		}
		v.BGM = TrackInGame
	}
	return v
}

func idleView(stages []StageConfig) View {
	v := View{
		Phase:        PhaseNotStarted,
		ActiveStage:  Unset,
		SuccessCount: Unset,
		Stages:       make([]StageState, len(stages)),
		Teleport:     DestSpawn,
		BGM:          TrackPreGame,
	}
	for i, cfg := range stages {
		markers := cfg.ProgressMarkers
		if markers < 0 {
			markers = 0
		}
		v.Stages[i] = StageState{
			Name:    cfg.Name,
			Variant: Unset,
			Markers: make([]bool, markers),
		}
	}
	return v
}
