// Package edx implements the Open edX client: session login, dashboard
// listing and courseware extraction.
package edx

import "strings"

// Course is one enrolled course listed on the learner dashboard.
type Course struct {
	ID    string
	Name  string
	URL   string
	State string
}

// Section is one week/chapter of a course outline.
type Section struct {
	Position    int
	Name        string
	SubSections []SubSection
}

// SubSection is one sequential inside a section; its URL serves the unit pages.
type SubSection struct {
	Name string
	URL  string
}

// Unit is a single courseware page extracted from a subsection.
type Unit struct {
	Index int
	Title string
	HTML  string
}

// TextBlock is the concatenated prose of an html component.
type TextBlock struct {
	Section    string `json:"section"`
	SubSection string `json:"subsection"`
	Unit       string `json:"unit"`
	Content    string `json:"content"`
}

// ProblemBlock is the visible text of the problem components in a unit plus
// the classified problem types.
type ProblemBlock struct {
	Section    string   `json:"section"`
	SubSection string   `json:"subsection"`
	Unit       string   `json:"unit"`
	Content    string   `json:"content"`
	Types      []string `json:"types"`
}

// VideoBlock is the metadata of one video component.
type VideoBlock struct {
	Section       string               `json:"section"`
	SubSection    string               `json:"subsection"`
	Unit          string               `json:"unit"`
	VideoID       string               `json:"video_id"`
	YoutubeURL    string               `json:"youtube_url"`
	VideoSource   string               `json:"video_source"`
	Duration      float64              `json:"video_duration"`
	Start         float64              `json:"start"`
	Transcripts   map[string]Transcript `json:"transcripts,omitempty"`
	SpeechPeriods []float64            `json:"speech_period,omitempty"`
}

// Transcript is the timed text of one subtitle track, milliseconds per cue.
type Transcript struct {
	Start []int    `json:"start"`
	End   []int    `json:"end"`
	Text  []string `json:"text"`
}

// SpeechPeriods returns the duration in seconds of each cue.
func (t Transcript) SpeechPeriods() []float64 {
	n := len(t.Start)
	if len(t.End) < n {
		n = len(t.End)
	}
	periods := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		periods = append(periods, float64(t.End[i]-t.Start[i])/1000)
	}
	return periods
}

// TranscriptURL expands the language placeholder in the translation template
// advertised by the video player metadata.
func TranscriptURL(baseURL, template, lang string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(strings.ReplaceAll(template, "__lang__", lang), "/")
}
