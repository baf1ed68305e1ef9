// Package progress derives gamified statistics from a user's exam records.
// Every function is pure and recomputes from scratch.
package progress

import (
	"math"
	"sort"

	"concurseiro-backend/internal/models"
)

type QuestionStats struct {
	TotalQuestions   int `json:"total_questions"`
	CorrectAnswers   int `json:"correct_answers"`
	IncorrectAnswers int `json:"incorrect_answers"`
	Accuracy         int `json:"accuracy"`
}

type Level struct {
	Level          int     `json:"level"`
	Title          string  `json:"title"`
	Next           int     `json:"next"`
	ProgressToNext float64 `json:"progress_to_next"`
}

type Achievement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Achieved    bool   `json:"achieved"`
}

type Profile struct {
	Stats                QuestionStats             `json:"stats"`
	StudyMinutes         int                       `json:"study_minutes"`
	StudyHours           float64                   `json:"study_hours"`
	TotalSimulations     int                       `json:"total_simulations"`
	CompletedSimulations int                       `json:"completed_simulations"`
	CompletedTopics      int                       `json:"completed_topics"`
	XP                   int                       `json:"xp"`
	Level                Level                     `json:"level"`
	Achievements         []Achievement             `json:"achievements"`
	RecentSimulations    []models.SimulationResult `json:"recent_simulations"`
}

const recentLimit = 5

// ComputeQuestionStats counts every recorded answer across all simulations,
// finished or not.
func ComputeQuestionStats(exams []models.ExamData) QuestionStats {
	var s QuestionStats
	for _, e := range exams {
		for _, sim := range e.SimulationHistory {
			for _, a := range sim.UserAnswers {
				s.TotalQuestions++
				if a.IsCorrect {
					s.CorrectAnswers++
				}
			}
		}
	}
	s.IncorrectAnswers = s.TotalQuestions - s.CorrectAnswers
	s.Accuracy = Accuracy(s.CorrectAnswers, s.TotalQuestions)
	return s
}

// Accuracy is the rounded percentage of correct answers, 0 when total is 0.
func Accuracy(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}

// ComputeStudyMinutes sums the duration of completed slots of every plan.
func ComputeStudyMinutes(exams []models.ExamData) int {
	total := 0
	for _, e := range exams {
		for i := range e.DailyPlans {
			total += e.DailyPlans[i].CompletedMinutes()
		}
	}
	return total
}

func TotalSimulations(exams []models.ExamData) int {
	n := 0
	for _, e := range exams {
		n += len(e.SimulationHistory)
	}
	return n
}

func CompletedSimulations(exams []models.ExamData) int {
	n := 0
	for _, e := range exams {
		for i := range e.SimulationHistory {
			if e.SimulationHistory[i].IsCompleted() {
				n++
			}
		}
	}
	return n
}

func CompletedTopics(exams []models.ExamData) int {
	n := 0
	for _, e := range exams {
		n += len(e.CompletedTopics)
	}
	return n
}

// XP weighs correct answers, completed study minutes and simulations taken.
func XP(correctAnswers, completedMinutes, totalSimulations int) int {
	return 10*correctAnswers + 2*completedMinutes + 50*totalSimulations
}

func ComputeXP(exams []models.ExamData) int {
	return XP(ComputeQuestionStats(exams).CorrectAnswers, ComputeStudyMinutes(exams), TotalSimulations(exams))
}

var levels = []struct {
	below int
	level int
	title string
}{
	{500, 1, "Iniciante"},
	{2000, 2, "Estudante Dedicado"},
	{5000, 3, "Concurseiro Sênior"},
	{10000, 4, "Mestre da Banca"},
}

const (
	maxLevel      = 5
	maxLevelTitle = "Aprovado"
	maxLevelNext  = 100000
)

func LevelFor(xp int) Level {
	lv := Level{Level: maxLevel, Title: maxLevelTitle, Next: maxLevelNext}
	for _, l := range levels {
		if xp < l.below {
			lv = Level{Level: l.level, Title: l.title, Next: l.below}
			break
		}
	}
	lv.ProgressToNext = math.Min(100, 100*float64(xp)/float64(lv.Next))
	return lv
}

// StudyHours converts minutes to hours rounded to one decimal, the figure
// the profile shows and the marathoner badge is judged on.
func StudyHours(minutes int) float64 {
	return math.Round(float64(minutes)/6) / 10
}

type aggregate struct {
	stats                QuestionStats
	studyMinutes         int
	completedSimulations int
}

var achievementRules = []struct {
	id, title, description string
	check                  func(a aggregate) bool
}{
	{"first-steps", "Primeiros Passos", "Completou 1 simulado", func(a aggregate) bool { return a.completedSimulations >= 1 }},
	{"marathoner", "Maratonista", "Estudou mais de 10 horas", func(a aggregate) bool { return StudyHours(a.studyMinutes) >= 10 }},
	{"sniper", "Sniper", "Acertou 100 questões", func(a aggregate) bool { return a.stats.CorrectAnswers >= 100 }},
	{"exam-master", "Mestre da Banca", "Alcançou 80% de precisão", func(a aggregate) bool {
		return a.stats.Accuracy >= 80 && a.stats.TotalQuestions > 20
	}},
}

func Achievements(exams []models.ExamData) []Achievement {
	return evaluate(aggregate{
		stats:                ComputeQuestionStats(exams),
		studyMinutes:         ComputeStudyMinutes(exams),
		completedSimulations: CompletedSimulations(exams),
	})
}

func evaluate(a aggregate) []Achievement {
	out := make([]Achievement, 0, len(achievementRules))
	for _, r := range achievementRules {
		out = append(out, Achievement{ID: r.id, Title: r.title, Description: r.description, Achieved: r.check(a)})
	}
	return out
}

// Summarize builds the full profile view.
func Summarize(exams []models.ExamData) Profile {
	stats := ComputeQuestionStats(exams)
	minutes := ComputeStudyMinutes(exams)
	sims := TotalSimulations(exams)
	completed := CompletedSimulations(exams)
	xp := XP(stats.CorrectAnswers, minutes, sims)

	return Profile{
		Stats:                stats,
		StudyMinutes:         minutes,
		StudyHours:           StudyHours(minutes),
		TotalSimulations:     sims,
		CompletedSimulations: completed,
		CompletedTopics:      CompletedTopics(exams),
		XP:                   xp,
		Level:                LevelFor(xp),
		Achievements:         evaluate(aggregate{stats: stats, studyMinutes: minutes, completedSimulations: completed}),
		RecentSimulations:    recentSimulations(exams, recentLimit),
	}
}

func recentSimulations(exams []models.ExamData, limit int) []models.SimulationResult {
	all := []models.SimulationResult{}
	for _, e := range exams {
		all = append(all, e.SimulationHistory...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	if len(all) > limit {
		all = all[:limit]
	}
	for i := range all {
		all[i].Questions = nil
	}
	return all
}
