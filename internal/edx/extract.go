package edx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Problem component classifications observed in Open edX markup.
const (
	ProblemMultiChoice = "multichoice"
	ProblemCheckbox    = "checkbox"
	ProblemDroplist    = "droplist"
	ProblemFillBlank   = "fillblank"
	ProblemUnknown     = "n/a"
)

var textTags = []string{"h1", "h2", "h3", "h4", "h5", "h6", "p", "li"}

var problemTextTags = []string{"h1", "h2", "h3", "h4", "h5", "h6", "p", "label", "legend"}

// ExtractCourses parses the dashboard HTML and returns the enrolled courses.
func ExtractCourses(body []byte, baseURL string) ([]Course, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse dashboard html: %w", err)
	}

	var courses []Course
	doc.Find("article.course").Each(func(_ int, sel *goquery.Selection) {
		anchor := sel.Find("h3.course-title a").First()
		if anchor.Length() == 0 {
			anchor = sel.Find("h3 a").First()
		}
		name := strings.TrimSpace(anchor.Text())
		if name == "" {
			name = strings.TrimSpace(sel.Find("h3").First().Text())
		}
		href, _ := anchor.Attr("href")
		course := Course{
			Name:  name,
			URL:   resolveURL(baseURL, href),
			State: "Not yet",
		}
		if id, ok := sel.Attr("data-course-key"); ok {
			course.ID = id
		} else {
			course.ID = courseIDFromURL(course.URL)
		}
		if href != "" {
			course.State = "Started"
		}
		courses = append(courses, course)
	})
	return courses, nil
}

// ExtractSections parses a courseware outline page into its section tree.
func ExtractSections(body []byte, baseURL string) ([]Section, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse courseware html: %w", err)
	}

	var sections []Section
	doc.Find("div.chapter").Each(func(i int, chapter *goquery.Selection) {
		name := strings.TrimSpace(chapter.Find("h3 a").First().Text())
		if name == "" {
			name = strings.TrimSpace(chapter.Find("h3").First().Text())
		}
		section := Section{
			Position: i + 1,
			Name:     name,
		}
		chapter.Find("ul li a").Each(func(_ int, item *goquery.Selection) {
			href, ok := item.Attr("href")
			if !ok {
				return
			}
			subName := strings.TrimSpace(item.Find("p").First().Text())
			if subName == "" {
				subName = strings.TrimSpace(item.Text())
			}
			if subName == "" {
				subName = "Untitled"
			}
			section.SubSections = append(section.SubSections, SubSection{
				Name: subName,
				URL:  resolveURL(baseURL, href),
			})
		})
		sections = append(sections, section)
	})
	return sections, nil
}

// ExtractUnits pulls the seq_contents_N payloads out of a subsection page.
// Each payload is the escaped HTML of one unit; the parser unescapes it when
// reading the text nodes.
func ExtractUnits(body []byte) ([]Unit, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse subsection html: %w", err)
	}

	var units []Unit
	for idx := 0; ; idx++ {
		sel := doc.Find("#seq_contents_" + strconv.Itoa(idx))
		if sel.Length() == 0 {
			break
		}
		html := strings.TrimSpace(sel.Text())
		units = append(units, Unit{
			Index: idx,
			Title: unitTitle(html),
			HTML:  html,
		})
	}
	return units, nil
}

func unitTitle(unitHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unitHTML))
	if err != nil {
		return "Untitled"
	}
	title := strings.TrimSpace(doc.Find("h2.unit-title").First().Text())
	if title == "" {
		return "Untitled"
	}
	return title
}

// ExtractTextBlocks concatenates the prose of all html components in a unit.
// An empty string means the unit holds no html component.
func ExtractTextBlocks(unitHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unitHTML))
	if err != nil {
		return "", fmt.Errorf("parse unit html: %w", err)
	}
	var b strings.Builder
	doc.Find(`div[data-block-type="html"]`).Each(func(_ int, block *goquery.Selection) {
		block.Find(strings.Join(textTags, ",")).Each(func(_ int, s *goquery.Selection) {
			b.WriteString(strings.TrimSpace(s.Text()))
			b.WriteString(" ")
		})
	})
	return strings.TrimSpace(b.String()), nil
}

// ExtractProblems returns the visible text and classified type of every
// problem component in a unit. The component markup lives escaped inside a
// data-content attribute and is re-parsed here.
func ExtractProblems(unitHTML string) (string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unitHTML))
	if err != nil {
		return "", nil, fmt.Errorf("parse unit html: %w", err)
	}

	var text strings.Builder
	var types []string
	var parseErr error
	doc.Find(`div[data-block-type="problem"]`).Each(func(_ int, block *goquery.Selection) {
		content, ok := block.Find("[data-content]").First().Attr("data-content")
		if !ok {
			return
		}
		inner, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err != nil {
			parseErr = fmt.Errorf("parse problem content: %w", err)
			return
		}
		inner.Find(strings.Join(problemTextTags, ",")).Each(func(_ int, s *goquery.Selection) {
			text.WriteString(strings.TrimSpace(s.Text()))
			text.WriteString(" ")
		})
		types = append(types, classifyProblem(inner))
	})
	if parseErr != nil {
		return "", nil, parseErr
	}
	return strings.TrimSpace(text.String()), types, nil
}

// classifyProblem distinguishes the quiz input styles. Multichoice and
// checkbox share the choicegroup class and differ only in input type;
// droplist and fillblank share the inputtype class and differ in subclass.
func classifyProblem(doc *goquery.Document) string {
	if doc.Find("div.choicegroup").Length() > 0 {
		if doc.Find(`input[type="checkbox"]`).Length() > 0 {
			return ProblemCheckbox
		}
		return ProblemMultiChoice
	}
	if doc.Find("div.inputtype").Length() > 0 {
		if doc.Find("div.inputtype.option-input").Length() > 0 {
			return ProblemDroplist
		}
		return ProblemFillBlank
	}
	return ProblemUnknown
}

// videoMetadata mirrors the data-metadata JSON attached to video components.
type videoMetadata struct {
	Streams                  string            `json:"streams"`
	Sources                  []string          `json:"sources"`
	Duration                 float64           `json:"duration"`
	Start                    float64           `json:"start"`
	TranscriptLanguages      map[string]string `json:"transcriptLanguages"`
	TranscriptTranslationURL string            `json:"transcriptTranslationUrl"`
}

// VideoComponent is one raw video component before transcripts are resolved.
type VideoComponent struct {
	VideoID             string
	YoutubeURL          string
	VideoSource         string
	Duration            float64
	Start               float64
	TranscriptLanguages map[string]string
	TranscriptTemplate  string
}

// ExtractVideoComponents parses the video components of a unit.
func ExtractVideoComponents(unitHTML string) ([]VideoComponent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unitHTML))
	if err != nil {
		return nil, fmt.Errorf("parse unit html: %w", err)
	}

	var components []VideoComponent
	var parseErr error
	doc.Find(`div[data-block-type="video"]`).Each(func(_ int, block *goquery.Selection) {
		player := block.Find("div[data-metadata]").First()
		raw, ok := player.Attr("data-metadata")
		if !ok {
			return
		}
		var meta videoMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			parseErr = fmt.Errorf("parse video metadata: %w", err)
			return
		}
		component := VideoComponent{
			Duration:            meta.Duration,
			Start:               meta.Start,
			TranscriptLanguages: meta.TranscriptLanguages,
			TranscriptTemplate:  meta.TranscriptTranslationURL,
		}
		if id, ok := player.Attr("id"); ok {
			component.VideoID = id
		}
		// The streams field encodes the youtube ID as "1.00:<id>".
		if meta.Streams != "" {
			component.YoutubeURL = "https://youtu.be/" + strings.TrimPrefix(meta.Streams, "1.00:")
		} else if len(meta.Sources) > 0 {
			component.VideoSource = meta.Sources[0]
		}
		components = append(components, component)
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return components, nil
}

// ExtractResourceURLs collects anchor targets whose extension matches one of
// the requested file formats.
func ExtractResourceURLs(unitHTML, baseURL string, formats []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unitHTML))
	if err != nil {
		return nil, fmt.Errorf("parse unit html: %w", err)
	}
	wanted := make(map[string]struct{}, len(formats))
	for _, f := range formats {
		wanted[strings.ToLower(strings.TrimPrefix(f, "."))] = struct{}{}
	}

	var urls []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		resolved := resolveURL(baseURL, href)
		parsed, err := url.Parse(resolved)
		if err != nil {
			return
		}
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(parsed.Path), "."))
		if _, ok := wanted[ext]; ok {
			urls = append(urls, resolved)
		}
	})
	return urls, nil
}

// ComponentTypes lists the block types of interest present in a unit, in
// document order.
func ComponentTypes(unitHTML string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unitHTML))
	if err != nil {
		return nil, fmt.Errorf("parse unit html: %w", err)
	}
	var types []string
	doc.Find("div[data-block-type]").Each(func(_ int, s *goquery.Selection) {
		blockType, _ := s.Attr("data-block-type")
		switch blockType {
		case "html", "video", "problem":
			types = append(types, blockType)
		}
	})
	return types, nil
}

func resolveURL(baseURL, href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func courseIDFromURL(courseURL string) string {
	parsed, err := url.Parse(courseURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, part := range parts {
		if part == "courses" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
