package toolregistry

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
)

const maxSkillSize = 100 * 1024 // 100 KB

// ImportSkillFromMarkdown validates and parses inline markdown into a
// Skill, persisting it as "pending". The front-matter (a leading
// "---"-delimited YAML block) is parsed into the Skill's typed fields;
// everything after it becomes Content.
func (r *Registry) ImportSkillFromMarkdown(content string) (*Skill, error) {
	if err := validateSkillContent(content); err != nil {
		return nil, err
	}

	skill, err := parseFrontMatter(content)
	if err != nil {
		return nil, err
	}
	if skill.Slug == "" {
		skill.Slug = uuid.NewString()
	}
	skill.Status = "pending"

	r.mu.Lock()
	r.skills[skill.Slug] = skill
	r.mu.Unlock()

	return skill, nil
}

// ImportSkillFromURL fetches a markdown file and imports it the same
// way as ImportSkillFromMarkdown.
func (r *Registry) ImportSkillFromURL(ctx context.Context, url string) (*Skill, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.New("toolregistry.ImportSkillFromURL", apperrors.KindValidation, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apperrors.New("toolregistry.ImportSkillFromURL", apperrors.KindUpstreamError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSkillSize+1))
	if err != nil {
		return nil, apperrors.New("toolregistry.ImportSkillFromURL", apperrors.KindUpstreamError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.KindUpstreamError, "fetching skill markdown returned status %d", resp.StatusCode)
	}
	return r.ImportSkillFromMarkdown(string(body))
}

func validateSkillContent(content string) error {
	if len(content) == 0 {
		return apperrors.Newf(apperrors.KindValidation, "skill content is empty")
	}
	if len(content) >= maxSkillSize {
		return apperrors.Newf(apperrors.KindValidation, "skill content exceeds 100 KB")
	}
	if strings.ContainsRune(content, '\x00') {
		return apperrors.Newf(apperrors.KindValidation, "skill content contains an embedded null byte")
	}
	return nil
}

// ApproveSkill sets a skill's status to approved. RejectSkill sets it
// to rejected; the skill stays in the registry and ListSkills still
// returns it when filtering by that status.
func (r *Registry) ApproveSkill(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.skills[slug]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "skill %q not found", slug)
	}
	s.Status = "approved"
	return nil
}

func (r *Registry) RejectSkill(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.skills[slug]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "skill %q not found", slug)
	}
	s.Status = "rejected"
	return nil
}

// ListSkills returns every imported skill, optionally filtered by status.
func (r *Registry) ListSkills(status string) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) GetSkill(slug string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[slug]
	return s, ok
}

type frontMatter struct {
	Slug        string                 `yaml:"slug"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Version     string                 `yaml:"version"`
	Tags        []string               `yaml:"tags"`
	Metadata    map[string]interface{} `yaml:"metadata"`
}

// parseFrontMatter splits a "---\n<yaml>\n---\n<body>" document. A
// document with no front-matter delimiter is accepted with an empty
// metadata block — the body becomes the whole Content.
func parseFrontMatter(doc string) (*Skill, error) {
	doc = strings.TrimPrefix(doc, "\ufeff") // tolerate a BOM from editors
	trimmed := strings.TrimLeft(doc, " \t\r\n")

	if !strings.HasPrefix(trimmed, "---") {
		return &Skill{Content: doc, Metadata: map[string]interface{}{}}, nil
	}

	rest := strings.TrimPrefix(trimmed, "---")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return &Skill{Content: doc, Metadata: map[string]interface{}{}}, nil
	}

	yamlBlock := rest[:idx]
	body := rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, apperrors.New("toolregistry.parseFrontMatter", apperrors.KindValidation, err)
	}

	return &Skill{
		Slug:        fm.Slug,
		Name:        fm.Name,
		Description: fm.Description,
		Version:     fm.Version,
		Tags:        fm.Tags,
		Content:     body,
		Metadata:    fm.Metadata,
	}, nil
}
