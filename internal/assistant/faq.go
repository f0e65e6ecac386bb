package assistant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type FAQEntry struct {
	Pattern *regexp.Regexp
	Answer  string
}

type faqFile struct {
	FAQ []struct {
		Pattern string `toml:"pattern"`
		Answer  string `toml:"answer"`
	} `toml:"faq"`
}

func DefaultFAQ() []FAQEntry {
	return []FAQEntry{
		{
			Pattern: regexp.MustCompile(`(?i)\b(who\s+created\s+you|who\s+made\s+you|who\s+built\s+you|your\s+creator|your\s+founder)\b`),
			Answer:  "I was created by Sultan Salauddin Ansari, a Computer Science Engineering student at Presidency University, Bengaluru, and the builder behind the FuncLexa AI ecosystem. LexaChat is part of his vision to develop fast, reliable, and developer-focused AI tools for real-world productivity.",
		},
		{
			Pattern: regexp.MustCompile(`(?i)\b(about\s+funclexa|what\s+is\s+funclexa|tell\s+me\s+about\s+funclexa)\b`),
			Answer:  "FuncLexa is an AI-driven SaaS ecosystem focused on building intelligent, practical tools for developers, students, and modern digital workflows. The platform combines full-stack engineering, voice AI, and applied artificial intelligence to deliver real-world productivity solutions. LexaChat serves as one of the flagship products within the FuncLexa ecosystem.",
		},
		{
			Pattern: regexp.MustCompile(`(?i)\b(about\s+creator|about\s+the\s+creator|who\s+is\s+the\s+creator|about\s+sultan)\b`),
			Answer:  "Sultan Salauddin Ansari is a B.Tech Computer Science Engineering student at Presidency University, Bengaluru, and an aspiring AI Engineer and MERN stack developer. He specializes in building production-ready full-stack applications and applied AI systems. His key work includes the FuncLexa ecosystem, the LexaChat real-time AI platform, and an advanced AI voice assistant, all focused on solving real-world problems through modern web technologies.",
		},
		{
			Pattern: regexp.MustCompile(`(?i)\b(about\s+lexachat|what\s+is\s+lexachat|tell\s+me\s+about\s+lexachat)\b`),
			Answer:  "LexaChat is a developer-focused AI chat assistant built under the FuncLexa ecosystem. It is designed to provide fast, accurate, and context-aware assistance for coding, debugging, learning, and real-world productivity. Built with modern full-stack technologies and advanced AI integration, LexaChat aims to deliver a smooth, reliable, and intelligent chat experience for developers and tech enthusiasts.",
		},
	}
}

// LoadFAQFile reads [[faq]] tables with pattern and answer keys. Patterns
// match case-insensitively. The file replaces the built-in catalogue.
func LoadFAQFile(path string) ([]FAQEntry, error) {
	var parsed faqFile
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return nil, fmt.Errorf("decode faq file %s: %w", path, err)
	}
	if len(parsed.FAQ) == 0 {
		return nil, errors.New("faq file has no [[faq]] entries")
	}

	entries := make([]FAQEntry, 0, len(parsed.FAQ))
	for i, item := range parsed.FAQ {
		pattern := strings.TrimSpace(item.Pattern)
		answer := strings.TrimSpace(item.Answer)
		if pattern == "" || answer == "" {
			return nil, fmt.Errorf("faq entry %d needs pattern and answer", i+1)
		}
		compiled, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("faq entry %d: %w", i+1, err)
		}
		entries = append(entries, FAQEntry{Pattern: compiled, Answer: answer})
	}
	return entries, nil
}

// MatchFAQ returns the answer of the first entry whose pattern matches.
func MatchFAQ(entries []FAQEntry, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, entry := range entries {
		if entry.Pattern != nil && entry.Pattern.MatchString(text) {
			return entry.Answer, true
		}
	}
	return "", false
}
