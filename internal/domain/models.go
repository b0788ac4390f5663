package domain

import "time"

// GameType selects the rules variant a room plays.
type GameType string

const (
	GameTypeQuizBattle         GameType = "quiz_battle"
	GameTypeCollaborativeSolve GameType = "collaborative_solve"
	GameTypeSpeedRound         GameType = "speed_round"
	GameTypeTeamChallenge      GameType = "team_challenge"
)

// Difficulty of the questions served to a room.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// RoomStatus is the lifecycle state of a room:
// waiting -> starting -> active -> [paused] -> finished | cancelled.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomStarting  RoomStatus = "starting"
	RoomActive    RoomStatus = "active"
	RoomPaused    RoomStatus = "paused"
	RoomFinished  RoomStatus = "finished"
	RoomCancelled RoomStatus = "cancelled"
)

// PlayerStatus tracks a player's presence and progress in the current round.
type PlayerStatus string

const (
	PlayerConnected    PlayerStatus = "connected"
	PlayerDisconnected PlayerStatus = "disconnected"
	PlayerAway         PlayerStatus = "away"
	PlayerAnswering    PlayerStatus = "answering"
	PlayerFinished     PlayerStatus = "finished"
)

// PowerUpType names a consumable modifier a player may hold.
type PowerUpType string

const (
	PowerUpDoublePoints PowerUpType = "double_points"
	PowerUpTimeFreeze   PowerUpType = "time_freeze"
	PowerUpFiftyFifty   PowerUpType = "fifty_fifty"
)

// SystemPlayerID marks chat messages synthesized by the room manager.
const SystemPlayerID = "system"

// RoomSettings are the feature flags chosen at room creation.
type RoomSettings struct {
	AllowLateJoin   bool `json:"allowLateJoin" yaml:"allowLateJoin"`
	ShowLeaderboard bool `json:"showLeaderboard" yaml:"showLeaderboard"`
	EnableChat      bool `json:"enableChat" yaml:"enableChat"`
	PowerUpsEnabled bool `json:"powerUpsEnabled" yaml:"powerUpsEnabled"`
	TeamMode        bool `json:"teamMode" yaml:"teamMode"`
}

// GameRoomConfig holds the creation-time parameters of a room. Only CreatedBy
// changes after creation, when the creator leaves.
type GameRoomConfig struct {
	ID              string       `json:"id" validate:"required,max=64"`
	Name            string       `json:"name" validate:"required,max=120"`
	GameType        GameType     `json:"gameType" validate:"required,oneof=quiz_battle collaborative_solve speed_round team_challenge"`
	Subject         string       `json:"subject" validate:"required,max=64"`
	Topic           string       `json:"topic,omitempty" validate:"max=120"`
	Difficulty      Difficulty   `json:"difficulty" validate:"required,oneof=beginner intermediate advanced"`
	MaxPlayers      int          `json:"maxPlayers" validate:"min=2,max=20"`
	TimePerQuestion int          `json:"timePerQuestion" validate:"min=10,max=300"` // seconds
	TotalQuestions  int          `json:"totalQuestions" validate:"min=5,max=50"`
	Language        string       `json:"language" validate:"oneof=es en"`
	Settings        RoomSettings `json:"settings"`
	CreatedBy       string       `json:"createdBy"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// QuestionTimeLimit returns the per-question time limit as a duration.
func (c GameRoomConfig) QuestionTimeLimit() time.Duration {
	return time.Duration(c.TimePerQuestion) * time.Second
}

// AnswerRecord is one player's outcome for one question.
type AnswerRecord struct {
	QuestionIndex int    `json:"questionIndex"`
	QuestionID    string `json:"questionId"`
	Answer        any    `json:"answer,omitempty"`
	TimeSpentMs   int64  `json:"timeSpentMs"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	// AutoFilled marks records created for players who never answered.
	AutoFilled bool `json:"autoFilled,omitempty"`
}

// Player is a room member. Owned and mutated by the room manager.
type Player struct {
	ID       string         `json:"id"`
	UserID   string         `json:"userId"`
	Name     string         `json:"name"`
	Avatar   string         `json:"avatar,omitempty"`
	Grade    string         `json:"grade,omitempty"`
	Status   PlayerStatus   `json:"status"`
	Score    int            `json:"score"`
	Streak   int            `json:"streak"`
	Answers  []AnswerRecord `json:"answers"`
	PowerUps []PowerUpType  `json:"powerUps"`
	TeamID   string         `json:"teamId,omitempty"`
	JoinedAt time.Time      `json:"joinedAt"`
	LastSeen time.Time      `json:"lastSeen"`
}

// SubmittedAnswer is the raw answer a player sent for the current question.
type SubmittedAnswer struct {
	Answer      any       `json:"answer"`
	TimeSpentMs int64     `json:"timeSpentMs"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// CurrentQuestion is the open (or just closed) question round of an active room.
type CurrentQuestion struct {
	Index      int                        `json:"index"`
	QuestionID string                     `json:"questionId"`
	StartTime  time.Time                  `json:"startTime"`
	EndTime    time.Time                  `json:"endTime"`
	Answers    map[string]SubmittedAnswer `json:"answers"`
	// Closed is set once the round ended and results are on display.
	Closed bool `json:"closed"`
}

// LeaderboardEntry is a ranked projection of a player.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
	Streak   int    `json:"streak"`
}

// ChatMessage is a room chat entry. System messages use SystemPlayerID.
type ChatMessage struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
	System     bool      `json:"system,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// GameRoom is the aggregate root of a game session.
type GameRoom struct {
	Config          GameRoomConfig     `json:"config"`
	Status          RoomStatus         `json:"status"`
	Players         []*Player          `json:"players"`
	CurrentQuestion *CurrentQuestion   `json:"currentQuestion,omitempty"`
	Leaderboard     []LeaderboardEntry `json:"leaderboard"`
	Chat            []ChatMessage      `json:"chat"`
	GameData        map[string]any     `json:"gameData"`
	StartedAt       *time.Time         `json:"startedAt,omitempty"`
	FinishedAt      *time.Time         `json:"finishedAt,omitempty"`
}

// Player returns the member with the given id, or nil.
func (r *GameRoom) Player(playerID string) *Player {
	for _, p := range r.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// RoomSummary is a lightweight listing view of a room.
type RoomSummary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	GameType       GameType   `json:"gameType"`
	Subject        string     `json:"subject"`
	Status         RoomStatus `json:"status"`
	CurrentPlayers int        `json:"currentPlayers"`
	MaxPlayers     int        `json:"maxPlayers"`
}

// QuestionAnalytics aggregates all answers to one question.
type QuestionAnalytics struct {
	Index         int     `json:"index"`
	QuestionID    string  `json:"questionId"`
	Answered      int     `json:"answered"`
	Correct       int     `json:"correct"`
	CorrectRate   float64 `json:"correctRate"`
	AverageTimeMs int64   `json:"averageTimeMs"`
}

// PlayerPerformance summarizes a player's game.
type PlayerPerformance struct {
	PlayerID        string  `json:"playerId"`
	UserID          string  `json:"userId"`
	Name            string  `json:"name"`
	FinalScore      int     `json:"finalScore"`
	Rank            int     `json:"rank"`
	CorrectAnswers  int     `json:"correctAnswers"`
	TotalAnswers    int     `json:"totalAnswers"`
	AverageTimeMs   int64   `json:"averageTimeMs"`
	LongestStreak   int     `json:"longestStreak"`
	ChatMessages    int     `json:"chatMessages"`
	EngagementScore float64 `json:"engagementScore"`
}

// GameAnalytics is the write-once summary produced when a game ends.
type GameAnalytics struct {
	RoomID         string              `json:"roomId"`
	GameType       GameType            `json:"gameType"`
	Subject        string              `json:"subject"`
	StartedAt      time.Time           `json:"startedAt"`
	EndedAt        time.Time           `json:"endedAt"`
	DurationMs     int64               `json:"durationMs"`
	QuestionsAsked int                 `json:"questionsAsked"`
	Questions      []QuestionAnalytics `json:"questions"`
	Players        []PlayerPerformance `json:"players"`
	AverageScore   float64             `json:"averageScore"`
	WinnerID       string              `json:"winnerId,omitempty"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Explanation string   `json:"explanation,omitempty"`
}

// QuestionBank is the ordered question content for one subject.
type QuestionBank struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// AnswerResult summarizes the outcome of an accepted submission for a single player.
type AnswerResult struct {
	QuestionID    string `json:"questionId"`
	QuestionIndex int    `json:"questionIndex"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	TotalScore    int    `json:"totalScore"`
	Streak        int    `json:"streak"`
	Explanation   string `json:"explanation,omitempty"`
}
