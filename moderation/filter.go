package moderation

import (
	"bufio"
	"bytes"
	"chat-relay/errors"
	"embed"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
)

//go:embed censored/*.txt
var censoredFolder embed.FS

// Dictionaries maps an ISO 639-1 language code to its censored words.
type Dictionaries map[string][]string

// LoadDictionaries reads every {lang}.txt file under dir of fsys.
func LoadDictionaries(fsys fs.FS, dir string) (Dictionaries, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	dictionaries := make(Dictionaries)
	total := 0
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		var words []string
		// bufio handles both \n and \r\n endings
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				words = append(words, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		dictionaries[strings.TrimSuffix(entry.Name(), ".txt")] = words
		total += len(words)
	}

	if total == 0 {
		return nil, errors.ErrEmptyWords
	}
	return dictionaries, nil
}

// DefaultDictionaries returns the word lists shipped with the binary.
func DefaultDictionaries() (Dictionaries, error) {
	return LoadDictionaries(censoredFolder, "censored")
}

// Languages lists the dictionary languages in a stable order.
func (d Dictionaries) Languages() []string {
	languages := make([]string, 0, len(d))
	for lang := range d {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

// Filter picks a moderator by the detected language of the content.
// When the language is unknown or has no dictionary, every word list applies.
type Filter struct {
	log      *slog.Logger
	byLang   map[string]Moderator
	fallback Moderator
}

func NewFilter(dictionaries Dictionaries, censoredChar rune, log *slog.Logger) (*Filter, error) {
	byLang := make(map[string]Moderator, len(dictionaries))
	var all []string
	for lang, words := range dictionaries {
		moderator, err := NewModerator(words, censoredChar, log)
		if err != nil {
			return nil, err
		}
		byLang[lang] = moderator
		all = append(all, words...)
	}
	fallback, err := NewModerator(all, censoredChar, log)
	if err != nil {
		return nil, err
	}
	log.Info("Moderation enabled", "languages", dictionaries.Languages(), "words", len(all))
	return &Filter{log: log, byLang: byLang, fallback: fallback}, nil
}

// Sanitize masks censored words and returns the detected language code.
func (f *Filter) Sanitize(content string) (string, []string, string) {
	info := whatlanggo.Detect(content)
	lang := info.Lang.Iso6391()

	moderator, ok := f.byLang[lang]
	if !ok || !info.IsReliable() {
		moderator = f.fallback
	}
	sanitized, words := moderator.Censor(content)
	if len(words) > 0 {
		f.log.Debug("Censored words found", "lang", lang, "count", len(words))
	}
	return sanitized, words, lang
}
