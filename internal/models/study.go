package models

type StudyContent struct {
	Subject string `json:"subject"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type StudyContentRequest struct {
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

type ExpandContentRequest struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

type StudyTutorRequest struct {
	Content  string `json:"content"`
	Question string `json:"question"`
}

type StepByStepRequest struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

type TextResponse struct {
	Text string `json:"text"`
}
