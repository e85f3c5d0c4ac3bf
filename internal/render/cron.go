// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package render

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

// CronTemplateName is the name of the cron job template in the charm's
// templates directory.
const CronTemplateName = "cron-job"

//go:embed templates/cron-job
var defaultCronTemplate string

// CronParams holds what goes into the cron job.
type CronParams struct {
	Schedule   string
	User       string
	ScriptDir  string
	ScriptName string
}

// Validate returns an error if the cron job cannot be rendered.
func (p CronParams) Validate() error {
	if err := ValidateSchedule(p.Schedule); err != nil {
		return errors.Trace(err)
	}
	if p.User == "" {
		return errors.NotValidf("empty user")
	}
	if p.ScriptDir == "" || p.ScriptName == "" {
		return errors.NotValidf("empty script")
	}
	return nil
}

var (
	cronField  = regexp.MustCompile(`^[0-9A-Za-z*/,-]+$`)
	cronMacros = []string{
		"@reboot", "@yearly", "@annually", "@monthly",
		"@weekly", "@daily", "@midnight", "@hourly",
	}
)

// ValidateSchedule checks that schedule is either one of the cron macros
// or five time and date fields.
func ValidateSchedule(schedule string) error {
	for _, macro := range cronMacros {
		if schedule == macro {
			return nil
		}
	}
	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return errors.NotValidf("cron schedule %q", schedule)
	}
	for _, field := range fields {
		if !cronField.MatchString(field) {
			return errors.NotValidf("cron schedule %q", schedule)
		}
	}
	return nil
}

// LoadCronTemplate returns the cron job template shipped in the charm
// directory, or the built in one if the charm has none.
func LoadCronTemplate(charmDir string) (*template.Template, error) {
	text := defaultCronTemplate
	data, err := os.ReadFile(filepath.Join(charmDir, "templates", CronTemplateName))
	if err == nil {
		text = string(data)
	} else if !os.IsNotExist(err) {
		return nil, errors.Trace(err)
	}
	tmpl, err := template.New(CronTemplateName).
		Funcs(template.FuncMap{"shquote": utils.ShQuote}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing %s template", CronTemplateName)
	}
	return tmpl, nil
}

// CronJob renders the cron job with tmpl.
func CronJob(tmpl *template.Template, p CronParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, errors.Annotatef(err, "rendering %s", CronTemplateName)
	}
	return buf.Bytes(), nil
}
