package domain

import "slices"

// NameDirection is a named cluster of naming style with an ordered list of
// sample candidate names.
type NameDirection struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Icon        string   `json:"icon" yaml:"icon"`
	Description string   `json:"description" yaml:"description"`
	SampleNames []string `json:"sampleNames" yaml:"sample_names"`
	Style       string   `json:"style" yaml:"style"`
}

// KangxiInfo locates a character in the Kangxi dictionary.
type KangxiInfo struct {
	Strokes  int    `json:"strokes" yaml:"strokes"`
	Page     string `json:"page" yaml:"page"`
	Original string `json:"original" yaml:"original"`
}

// CharacterInfo describes one character of a name.
type CharacterInfo struct {
	Char        string     `json:"char" yaml:"char"`
	Pinyin      string     `json:"pinyin" yaml:"pinyin"`
	Element     string     `json:"element" yaml:"element"`
	Meaning     string     `json:"meaning" yaml:"meaning"`
	Explanation string     `json:"explanation" yaml:"explanation"`
	Source      string     `json:"source" yaml:"source"`
	Kangxi      KangxiInfo `json:"kangxi" yaml:"kangxi"`
}

// Phonetics scores how a name sounds.
type Phonetics struct {
	Tone     string `json:"tone" yaml:"tone"`
	Initials string `json:"initials" yaml:"initials"`
	Score    int    `json:"score" yaml:"score"`
}

// NameDetail is the enriched catalog entry for a candidate name.
type NameDetail struct {
	Name                string          `json:"name" yaml:"name"`
	Pinyin              string          `json:"pinyin" yaml:"pinyin"`
	Characters          []CharacterInfo `json:"characters" yaml:"characters"`
	Meaning             string          `json:"meaning" yaml:"meaning"`
	Source              string          `json:"source" yaml:"source"`
	Elements            string          `json:"elements" yaml:"elements"`
	ChartMatch          string          `json:"chartMatch" yaml:"chart_match"`
	Score               int             `json:"score" yaml:"score"`
	Uniqueness          string          `json:"uniqueness" yaml:"uniqueness"`
	UniquenessCount     string          `json:"uniquenessCount" yaml:"uniqueness_count"`
	Phonetics           Phonetics       `json:"phonetics" yaml:"phonetics"`
	PersonalizedMeaning string          `json:"personalizedMeaning" yaml:"personalized_meaning"`
}

// Clone returns a copy that shares nothing with d.
func (d NameDetail) Clone() NameDetail {
	d.Characters = slices.Clone(d.Characters)
	return d
}

// Pillar is one column (year, month, day, hour) of the four-pillar chart.
type Pillar struct {
	Stems          string `json:"stems" yaml:"stems"`
	Elements       string `json:"elements" yaml:"elements"`
	HiddenStems    string `json:"hiddenStems" yaml:"hidden_stems"`
	HiddenElements string `json:"hiddenElements" yaml:"hidden_elements"`
	Nayin          string `json:"nayin" yaml:"nayin"`
}

// Chart is the four-pillar birth chart.
type Chart struct {
	Year         Pillar `json:"year" yaml:"year"`
	Month        Pillar `json:"month" yaml:"month"`
	Day          Pillar `json:"day" yaml:"day"`
	Hour         Pillar `json:"hour" yaml:"hour"`
	NatalElement string `json:"natalElement" yaml:"natal_element"`
}

// ElementCounts tallies the five elements.
type ElementCounts struct {
	Metal int `json:"metal" yaml:"metal"`
	Wood  int `json:"wood" yaml:"wood"`
	Water int `json:"water" yaml:"water"`
	Fire  int `json:"fire" yaml:"fire"`
	Earth int `json:"earth" yaml:"earth"`
}

// ElementStrengths holds the weighted content of the five elements.
type ElementStrengths struct {
	Metal float64 `json:"metal" yaml:"metal"`
	Wood  float64 `json:"wood" yaml:"wood"`
	Water float64 `json:"water" yaml:"water"`
	Fire  float64 `json:"fire" yaml:"fire"`
	Earth float64 `json:"earth" yaml:"earth"`
}

// ElementAnalysis is the five-element reading derived from the chart.
type ElementAnalysis struct {
	Counts           ElementCounts    `json:"counts" yaml:"counts"`
	Strengths        ElementStrengths `json:"strengths" yaml:"strengths"`
	Favorable        []string         `json:"favorable" yaml:"favorable"`
	Unfavorable      []string         `json:"unfavorable" yaml:"unfavorable"`
	DayMaster        string           `json:"dayMaster" yaml:"day_master"`
	DayMasterElement string           `json:"dayMasterElement" yaml:"day_master_element"`
	Supporting       []string         `json:"supporting" yaml:"supporting"`
	Opposing         []string         `json:"opposing" yaml:"opposing"`
	SupportingScore  float64          `json:"supportingScore" yaml:"supporting_score"`
	OpposingScore    float64          `json:"opposingScore" yaml:"opposing_score"`
	Verdict          string           `json:"verdict" yaml:"verdict"`
}

// NumerologySnapshot pairs a chart with its element analysis.
type NumerologySnapshot struct {
	Chart           Chart           `json:"chart" yaml:"chart"`
	ElementAnalysis ElementAnalysis `json:"elementAnalysis" yaml:"element_analysis"`
}

// Clone returns a copy that shares no slices with n.
func (n NumerologySnapshot) Clone() NumerologySnapshot {
	a := &n.ElementAnalysis
	a.Favorable = slices.Clone(a.Favorable)
	a.Unfavorable = slices.Clone(a.Unfavorable)
	a.Supporting = slices.Clone(a.Supporting)
	a.Opposing = slices.Clone(a.Opposing)
	return n
}
