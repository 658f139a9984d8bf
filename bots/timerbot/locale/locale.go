// Package locale provides texts of the bot in the user's language.
package locale

import (
	"embed"
	"io/fs"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Text keys.
const (
	Start           = "start"
	Help            = "help"
	Stopped         = "stopped"
	Wiped           = "wiped"
	TimesUp         = "times_up"
	InvalidDuration = "invalid_duration"
	NoConversation  = "no_conversation"
	UnknownCommand  = "unknown_command"
	Failure         = "failure"
)

const DefaultLanguage = "en"

//go:embed *.yaml
var builtin embed.FS

// Catalog keeps texts per language.
type Catalog struct {
	texts map[string]map[string]string
}

// Load reads every <lang>.yaml file in the root of fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}

	c := &Catalog{texts: make(map[string]map[string]string)}
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed reading %s", name)
		}

		texts := map[string]string{}
		if err = yaml.Unmarshal(raw, &texts); err != nil {
			return nil, errors.Wrapf(err, "failed parsing %s", name)
		}

		c.texts[strings.TrimSuffix(path.Base(name), ".yaml")] = texts
	}

	if _, ok := c.texts[DefaultLanguage]; !ok {
		return nil, errors.Errorf("no texts for default language %q", DefaultLanguage)
	}
	return c, nil
}

// Builtin returns the catalog shipped with the bot.
func Builtin() *Catalog {
	c, err := Load(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

// Text returns the text for lang. Regional tags like "en-US" fall back to their
// base language, missing texts to the default language and then to the key.
func (c *Catalog) Text(lang, key string) string {
	lang = strings.ToLower(lang)
	candidates := []string{lang}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		candidates = append(candidates, lang[:i])
	}
	candidates = append(candidates, DefaultLanguage)

	for _, l := range candidates {
		if txt, ok := c.texts[l][key]; ok {
			return txt
		}
	}
	return key
}

// Languages lists loaded languages.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.texts))
	for l := range c.texts {
		langs = append(langs, l)
	}
	return langs
}
