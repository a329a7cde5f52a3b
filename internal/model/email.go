package model

// EmailMessage is the payload published on the email channel for background
// delivery. The webhook path only queues it; the worker owns the send.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}
