package coherence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/pkg/assembler"
	"github.com/storyloom/storyloom/pkg/memory"
	"github.com/storyloom/storyloom/pkg/ranking"
	"github.com/storyloom/storyloom/pkg/story"
)

func testBundle() *assembler.Bundle {
	st := story.NewState("s1")
	st.Characters["Lin Feng"] = &story.CharacterProfile{Name: "Lin Feng", Role: story.RoleProtagonist, Traits: []string{"brave"}, LastUpdatedChapter: 2}
	st.Characters["Elder Mo"] = &story.CharacterProfile{Name: "Elder Mo", Role: story.RoleMentor, Status: story.StatusDeceased, LastUpdatedChapter: 3}
	st.Characters["Wang Bo"] = &story.CharacterProfile{Name: "Wang Bo", Role: story.RoleAntagonist, LastUpdatedChapter: 1}
	st.Threads["Jade Pendant"] = &story.PlotThread{Name: "Jade Pendant", Status: story.ThreadActive, Progress: 0.3, LastTouchedChapter: 3}
	st.Threads["Sect Exam"] = &story.PlotThread{Name: "Sect Exam", Status: story.ThreadResolved, Progress: 1, LastTouchedChapter: 2}
	st.WorldFacts["Qi"] = &story.WorldFact{
		Element:           "Qi",
		Category:          story.CategoryPowerSystem,
		Importance:        story.ImportanceCore,
		IntroducedChapter: 1,
		ConsistencyRules:  []string{"Mortals cannot sense qi."},
	}

	return &assembler.Bundle{
		StoryID:        "s1",
		UserChoice:     "open the pendant",
		CurrentChapter: 5,
		State:          st,
		RankedMemories: []ranking.Ranked{{
			Entry: &memory.MemoryEntry{
				ID:            "m1",
				ChapterNumber: 3,
				Content:       "Lin Feng found the jade pendant in the ruins.",
				Characters:    []string{"Lin Feng"},
				Keywords:      []string{"jade pendant"},
			},
			Score: 0.81,
		}},
	}
}

const consistentChapter = "Lin Feng opened the jade pendant and light spilled out. " +
	"He stood firm, brave as ever. Wang Bo watched from the gate."

const inconsistentChapter = "Elder Mo smiled and said the exam was still unfinished. " +
	"Lin Feng felt cowardly before Wang Bo, a stranger he had never met. " +
	"As foretold in chapter 9, the mortal farmer could sense qi. " +
	"The Sect Exam is still unresolved."

func TestScore_Consistent(t *testing.T) {
	s := New(DefaultConfig())
	r := s.Score("s1", consistentChapter, testBundle())

	assert.Equal(t, "s1", r.StoryID)
	assert.InDelta(t, 1.0, r.Character, 1e-9)
	assert.InDelta(t, 1.0, r.Plot, 1e-9)
	assert.InDelta(t, 1.0, r.World, 1e-9)
	assert.InDelta(t, 1.0, r.Temporal, 1e-9)
	assert.InDelta(t, 1.0, r.Overall, 1e-9)
	assert.True(t, r.Accepted)
	assert.Empty(t, r.Issues)
}

func TestScore_Inconsistent(t *testing.T) {
	s := New(DefaultConfig())
	r := s.Score("s1", inconsistentChapter, testBundle())

	assert.InDelta(t, 0.35, r.Character, 1e-9)
	assert.InDelta(t, 0.6, r.Plot, 1e-9)
	assert.InDelta(t, 0.65, r.World, 1e-9)
	assert.InDelta(t, 0.15, r.Temporal, 1e-9)
	assert.InDelta(t, 0.49, r.Overall, 1e-9)
	assert.False(t, r.Accepted)

	require.Len(t, r.Issues, 4)
	byType := make(map[IssueType]Issue)
	for _, is := range r.Issues {
		byType[is.Type] = is
	}

	character := byType[IssueCharacter]
	assert.Equal(t, []string{"Elder Mo", "Lin Feng"}, character.Entities)
	assert.Contains(t, character.Description, "Elder Mo is recorded as deceased")
	assert.Contains(t, character.Description, "established as brave")

	plot := byType[IssuePlot]
	assert.Equal(t, SeverityLow, plot.Severity)
	assert.Contains(t, plot.Description, `"Jade Pendant" is not advanced`)
	assert.Contains(t, plot.Description, "player choice")

	world := byType[IssueWorld]
	assert.Equal(t, SeverityLow, world.Severity)
	assert.Equal(t, []string{"Qi"}, world.Entities)
	assert.Equal(t, []int{1}, world.AffectedChapters)

	temporal := byType[IssueTemporal]
	assert.Equal(t, SeverityHigh, temporal.Severity)
	assert.Equal(t, []string{"Sect Exam", "Wang Bo"}, temporal.Entities)
	assert.Equal(t, []int{1, 2, 9}, temporal.AffectedChapters)
}

func TestScore_CoreFallback(t *testing.T) {
	mo := &story.CharacterProfile{Name: "Elder Mo", Role: story.RoleMentor, Status: "dead", LastUpdatedChapter: 3}
	b := &assembler.Bundle{
		StoryID:        "s1",
		CurrentChapter: 4,
		Core:           []assembler.CoreItem{{Kind: assembler.KindCharacter, Text: assembler.RenderCharacter(mo), Character: mo}},
	}
	r := New(DefaultConfig()).Score("s1", "Elder Mo walked into the hall.", b)
	assert.InDelta(t, 0.6, r.Character, 1e-9)
	require.Len(t, r.Issues, 1)
	assert.Equal(t, IssueCharacter, r.Issues[0].Type)
	assert.Equal(t, []int{3}, r.Issues[0].AffectedChapters)

	r = New(DefaultConfig()).Score("s1", "They visited the grave where Elder Mo was buried, and a crow looked on.", b)
	assert.InDelta(t, 1.0, r.Character, 1e-9)
}

func TestScore_NilBundle(t *testing.T) {
	r := New(DefaultConfig()).Score("s1", "Anything at all.", nil)
	assert.InDelta(t, 1.0, r.Overall, 1e-9)
	assert.Empty(t, r.Issues)
}

func TestScore_Deterministic(t *testing.T) {
	s := New(DefaultConfig())
	first := s.Score("s1", inconsistentChapter, testBundle())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Score("s1", inconsistentChapter, testBundle()))
	}
}

func TestScorer_SetConfig(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, DefaultConfig(), s.Config())

	assert.Error(t, s.SetConfig(Config{AxisThreshold: 0.7, AcceptThreshold: 0.8}))
	assert.Error(t, s.SetConfig(Config{Weights: DefaultWeights(), AcceptThreshold: 1.5}))

	cfg := DefaultConfig()
	cfg.AcceptThreshold = 0.4
	require.NoError(t, s.SetConfig(cfg))
	assert.True(t, s.Score("s1", inconsistentChapter, testBundle()).Accepted)

	cfg.Weights = Weights{Plot: 1}
	require.NoError(t, s.SetConfig(cfg))
	r := s.Score("s1", inconsistentChapter, testBundle())
	assert.InDelta(t, r.Plot, r.Overall, 1e-9)
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		deficit float64
		want    Severity
	}{
		{0.01, SeverityLow},
		{0.14, SeverityLow},
		{0.15, SeverityMedium},
		{0.34, SeverityMedium},
		{0.35, SeverityHigh},
		{0.7, SeverityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.deficit), "deficit %.2f", tt.deficit)
	}
}

func TestParseProhibition(t *testing.T) {
	tests := []struct {
		rule            string
		subject, action string
		ok              bool
	}{
		{"Mortals cannot sense qi.", "mortals", "sense qi", true},
		{"Everyone must not enter the forbidden hall", "", "enter the forbidden hall", true},
		{"Dragons never lie", "dragons", "lie", true},
		{"Disciples are forbidden to leave the mountain", "disciples", "leave the mountain", true},
		{"Qi flows through meridians", "", "", false},
	}
	for _, tt := range tests {
		subject, action, ok := parseProhibition(tt.rule)
		assert.Equal(t, tt.ok, ok, tt.rule)
		assert.Equal(t, tt.subject, subject, tt.rule)
		assert.Equal(t, tt.action, action, tt.rule)
	}
}
