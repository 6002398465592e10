package compiler

import (
	"regexp"
	"strings"

	"github.com/slok/taskforge/internal/model"
)

// Roles of the fixed skill taxonomy.
const (
	RoleDataTransformation = "Data transformation specialist"
	RoleSpreadsheet        = "Excel/Sheets specialist"
	RoleVisualization      = "Data visualization expert"
	RoleDatabase           = "Database developer"
	RoleScraping           = "Web scraping specialist"
	RoleBackend            = "Backend developer"
	RoleResearch           = "Research analyst"
	RoleTechnicalWriter    = "Technical writer"
	RoleSoftwareDeveloper  = "Software developer"
	// RoleGeneric is used when no keyword matches.
	RoleGeneric = "Generalist automation engineer"
)

type roleKeyword struct {
	keyword string
	role    string
	re      *regexp.Regexp
}

// roleKeywords is ordered, the first keyword found decides the role.
var roleKeywords = newRoleKeywords([][2]string{
	{"data entry", RoleDataTransformation},
	{"data transformation", RoleDataTransformation},
	{"excel", RoleSpreadsheet},
	{"spreadsheet", RoleSpreadsheet},
	{"csv", RoleDataTransformation},
	{"visualization", RoleVisualization},
	{"chart", RoleVisualization},
	{"graph", RoleVisualization},
	{"database", RoleDatabase},
	{"sql", RoleDatabase},
	{"scraping", RoleScraping},
	{"api", RoleBackend},
	{"integration", RoleBackend},
	{"research", RoleResearch},
	{"analysis", RoleResearch},
	{"document", RoleTechnicalWriter},
	{"word", RoleTechnicalWriter},
	{"pdf", RoleTechnicalWriter},
	{"code", RoleSoftwareDeveloper},
	{"programming", RoleSoftwareDeveloper},
	{"vba", RoleSpreadsheet},
	{"automation", RoleSoftwareDeveloper},
})

func newRoleKeywords(table [][2]string) []roleKeyword {
	res := make([]roleKeyword, 0, len(table))
	for _, r := range table {
		res = append(res, roleKeyword{
			keyword: r[0],
			role:    r[1],
			re:      regexp.MustCompile(`\b` + regexp.QuoteMeta(r[0])),
		})
	}
	return res
}

// skillGroups map keyword groups to the skills they bring, in render order.
var skillGroups = []struct {
	keywords []string
	skills   []string
}{
	{keywords: []string{"excel", "spreadsheet", "csv", "vba"}, skills: []string{"CSV/Excel file manipulation", "Python pandas for data processing"}},
	{keywords: []string{"pdf", "word", "document"}, skills: []string{"Document parsing and text extraction"}},
	{keywords: []string{"visualization", "chart", "graph"}, skills: []string{"Data visualization with matplotlib/plotly"}},
	{keywords: []string{"database", "sql"}, skills: []string{"SQL database operations"}},
	{keywords: []string{"api", "integration"}, skills: []string{"API integration and data fetching"}},
	{keywords: []string{"scraping"}, skills: []string{"HTML parsing and polite crawling"}},
}

var defaultSkills = []string{
	"CSV/Excel file manipulation",
	"Python pandas for data processing",
	"Text manipulation and string operations",
}

const fillerSkill = "Reproducible Python scripting"

const (
	minSkills = 2
	maxSkills = 4
)

// inferRole maps the spec domain keywords to a role of the taxonomy and its skills.
// It never returns an empty role.
func inferRole(spec model.TaskSpec) (role string, skills []string) {
	parts := []string{spec.Title, spec.Description}
	for _, r := range spec.Requirements {
		parts = append(parts, r.Text)
	}
	text := strings.ToLower(strings.Join(parts, " "))

	matched := map[string]bool{}
	for _, rk := range roleKeywords {
		if rk.re.MatchString(text) {
			matched[rk.keyword] = true
			if role == "" {
				role = rk.role
			}
		}
	}
	if role == "" {
		role = RoleGeneric
	}

	for _, g := range skillGroups {
		for _, k := range g.keywords {
			if matched[k] {
				skills = append(skills, g.skills...)
				break
			}
		}
	}
	if len(skills) == 0 {
		skills = append(skills, defaultSkills...)
	}
	if len(skills) < minSkills {
		skills = append(skills, fillerSkill)
	}
	if len(skills) > maxSkills {
		skills = skills[:maxSkills]
	}

	return role, skills
}
