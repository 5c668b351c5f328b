// Package tiapp reads the project descriptor tiapp.xml.
package tiapp

import (
	"encoding/xml"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// PropLoadFromSDCard enables the sdcard resource sync channel.
const PropLoadFromSDCard = "ti.android.loadfromsdcard"

// Property is one <property> element.
type Property struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// App is the subset of the descriptor the deployer needs.
type App struct {
	XMLName    xml.Name   `xml:"app"`
	ID         string     `xml:"id"`
	Name       string     `xml:"name"`
	Version    string     `xml:"version"`
	Icon       string     `xml:"icon"`
	Properties []Property `xml:"property"`
}

// Load parses the descriptor at path.
func Load(path string) (*App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Parse(data)
}

// Parse decodes descriptor bytes.
func Parse(data []byte) (*App, error) {
	var app App
	if err := xml.Unmarshal(data, &app); err != nil {
		return nil, errors.Wrap(err, "parse tiapp.xml")
	}
	app.ID = strings.TrimSpace(app.ID)
	app.Name = strings.TrimSpace(app.Name)
	app.Icon = strings.TrimSpace(app.Icon)
	for i := range app.Properties {
		app.Properties[i].Value = strings.TrimSpace(app.Properties[i].Value)
	}
	return &app, nil
}

// Property returns the raw value of the named property.
func (a *App) Property(name string) (string, bool) {
	for _, p := range a.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Bool returns the named property as a boolean, false when absent.
func (a *App) Bool(name string) bool {
	v, ok := a.Property(name)
	if !ok {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// LoadFromSDCard reports whether resources are served from the sdcard.
func (a *App) LoadFromSDCard() bool {
	return a.Bool(PropLoadFromSDCard)
}

// ClassName derives the Java class prefix from the application name:
// alphanumerics only, first letter upper-cased.
func ClassName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return "App"
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
