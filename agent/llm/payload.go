package llm

import (
	"encoding/json"
	"fmt"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

type meetingView struct {
	Title           string `json:"title"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
	Transcript      string `json:"transcript"`
}

type completionInput struct {
	Question            string                  `json:"question"`
	Contacts            []contractx.FullContact `json:"contacts"`
	ConversationHistory []contractx.HistoryItem `json:"conversation_history"`
	Meetings            []meetingView           `json:"meetings"`
}

// buildInput renders the question and its context as the JSON user message.
func buildInput(question string, qc contractx.QueryContext) (string, error) {
	in := completionInput{
		Question:            question,
		Contacts:            qc.Contacts,
		ConversationHistory: qc.ConversationHistory,
		Meetings:            make([]meetingView, 0, len(qc.Meetings)),
	}
	if in.Contacts == nil {
		in.Contacts = []contractx.FullContact{}
	}
	if in.ConversationHistory == nil {
		in.ConversationHistory = []contractx.HistoryItem{}
	}
	for _, m := range qc.Meetings {
		date := ""
		if !m.Date.IsZero() {
			date = m.Date.UTC().Format("2006-01-02 15:04 MST")
		}
		in.Meetings = append(in.Meetings, meetingView{
			Title:           m.Title,
			Date:            date,
			DurationMinutes: int(m.Duration.Minutes()),
			Transcript:      m.Transcript,
		})
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal completion input: %w", err)
	}
	return string(raw), nil
}
