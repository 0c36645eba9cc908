package protocol

// HELLO (client -> server): first frame on a fresh connection.
type HelloMsg struct {
	ProtocolVersion string `codec:"protocol_version" json:"protocol_version"`
	PlayerName      string `codec:"player_name" json:"player_name"`
}

// WELCOME (server -> client): handshake reply. Carries every constant the
// client needs to predict with the server's exact numbers.
type WelcomeMsg struct {
	ProtocolVersion string      `codec:"protocol_version" json:"protocol_version"`
	EntityID        string      `codec:"entity_id" json:"entity_id"`
	Params          WorldParams `codec:"world_params" json:"world_params"`
}

type WorldParams struct {
	TickRateHz       int            `codec:"tick_rate_hz" json:"tick_rate_hz"`
	InputRedundancy  int            `codec:"input_redundancy" json:"input_redundancy"`
	InterpDelayTicks int            `codec:"interp_delay_ticks" json:"interp_delay_ticks"`
	CommandWindow    int            `codec:"command_window" json:"command_window"`
	Seed             int64          `codec:"seed" json:"seed"`
	Movement         MovementParams `codec:"movement" json:"movement"`
}

type MovementParams struct {
	AccelPerSec     float64 `codec:"accel_per_sec" json:"accel_per_sec"`
	MaxSpeed        float64 `codec:"max_speed" json:"max_speed"`
	FrictionPerSec  float64 `codec:"friction_per_sec" json:"friction_per_sec"`
	ArenaHalfExtent float64 `codec:"arena_half_extent" json:"arena_half_extent"`
	HitRadius       float64 `codec:"hit_radius" json:"hit_radius"`
	RayRange        float64 `codec:"ray_range" json:"ray_range"`
}

// INPUT (client -> server): the newest command plus the most recent
// predecessors, ascending by seq. Lost packets are never retransmitted;
// the overlap in the next packet covers them.
type InputMsg struct {
	Commands     []CommandRecord `codec:"commands" json:"commands"`
	SnapshotEcho int64           `codec:"snapshot_echo" json:"snapshot_echo,omitempty"`
}

type CommandRecord struct {
	Seq     uint32  `codec:"seq" json:"seq"`
	Buttons uint8   `codec:"buttons" json:"buttons"`
	AimX    float64 `codec:"aim_x" json:"aim_x"`
	AimY    float64 `codec:"aim_y" json:"aim_y"`
	Tick    uint64  `codec:"tick" json:"tick"`
}

// SNAPSHOT (server -> client): full authoritative state, one per tick.
// LastInput is personalized per recipient; everything else is shared.
type SnapshotMsg struct {
	Tick      uint64         `codec:"tick" json:"tick"`
	LastInput uint32         `codec:"last_input" json:"last_input"`
	SentAtMs  int64          `codec:"sent_at_ms" json:"sent_at_ms"`
	Entities  []EntityRecord `codec:"entities" json:"entities"`
}

type EntityRecord struct {
	ID  string  `codec:"id" json:"id"`
	X   float64 `codec:"x" json:"x"`
	Y   float64 `codec:"y" json:"y"`
	VX  float64 `codec:"vx" json:"vx"`
	VY  float64 `codec:"vy" json:"vy"`
	Yaw float64 `codec:"yaw" json:"yaw"`
}

// HIT_CLAIM (client -> server): "at my render time I had this target under
// my crosshair". RenderTick is authoritative when set; LatencyMs is the
// fallback for clients that have not interpolated yet.
type HitClaimMsg struct {
	ClaimID    string  `codec:"claim_id" json:"claim_id"`
	AimX       float64 `codec:"aim_x" json:"aim_x"`
	AimY       float64 `codec:"aim_y" json:"aim_y"`
	RenderTick uint64  `codec:"render_tick" json:"render_tick,omitempty"`
	LatencyMs  int64   `codec:"latency_ms" json:"latency_ms,omitempty"`
	TargetHint string  `codec:"target_hint" json:"target_hint,omitempty"`
}

// HIT_RESULT (server -> client): authoritative verdict for one claim.
type HitResultMsg struct {
	ClaimID    string `codec:"claim_id" json:"claim_id"`
	Hit        bool   `codec:"hit" json:"hit"`
	Target     string `codec:"target" json:"target,omitempty"`
	RewindTick uint64 `codec:"rewind_tick" json:"rewind_tick"`
	Code       string `codec:"code" json:"code,omitempty"`
}

// ERROR (server -> client): coded rejection. The connection stays open
// unless the handshake itself failed.
type ErrorMsg struct {
	Code    string `codec:"code" json:"code"`
	Message string `codec:"message" json:"message"`
}
