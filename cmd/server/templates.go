package main

import (
	"fmt"
	"html/template"
	"path/filepath"
	"time"

	"github.com/gin-contrib/multitemplate"

	"rujing/internal/models"
	"rujing/internal/utils"
)

var templateFuncs = template.FuncMap{
	"dict": func(values ...interface{}) (map[string]interface{}, error) {
		if len(values)%2 != 0 {
			return nil, fmt.Errorf("invalid dict call")
		}
		dict := make(map[string]interface{}, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings")
			}
			dict[key] = values[i+1]
		}
		return dict, nil
	},
	"timeAgo": func(t time.Time) string {
		return utils.TimeAgo(t, time.Now())
	},
	"author": func(p *models.UserProfile) string {
		return utils.AuthorName(p)
	},
	"liked": func(liked map[string]bool, id string) bool {
		return liked[id]
	},
}

// loadTemplates builds one template set per view: every layout and
// component plus the view itself, so block names never collide.
func loadTemplates(templatesDir string) multitemplate.Renderer {
	r := multitemplate.NewRenderer()

	layouts, err := filepath.Glob(templatesDir + "/layouts/*.html")
	if err != nil {
		panic(err)
	}
	components, err := filepath.Glob(templatesDir + "/components/*.html")
	if err != nil {
		panic(err)
	}

	assemble := func(view string) []string {
		files := make([]string, 0, len(layouts)+len(components)+1)
		files = append(files, layouts...)
		files = append(files, components...)
		return append(files, view)
	}

	r.AddFromFilesFuncs("comments/index.html", templateFuncs, assemble(templatesDir+"/views/comments/index.html")...)
	r.AddFromFilesFuncs("auth/login.html", templateFuncs, assemble(templatesDir+"/views/auth/login.html")...)
	r.AddFromFilesFuncs("error.html", templateFuncs, assemble(templatesDir+"/views/error.html")...)
	return r
}
