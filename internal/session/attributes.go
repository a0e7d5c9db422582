package session

import (
	"fmt"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// AllocateTemplate creates an empty job template and returns its id.
func (s *Session) AllocateTemplate() (int, error) {
	c, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer c.leave()
	return c.templates.allocate(), nil
}

// DeleteTemplate frees a template id. Jobs already submitted from the
// template are unaffected.
func (s *Session) DeleteTemplate(id int) error {
	c, err := s.enter()
	if err != nil {
		return err
	}
	defer c.leave()
	return c.templates.remove(id)
}

// SetAttributeValue sets a scalar attribute, replacing any previous value.
func (s *Session) SetAttributeValue(id int, name, value string) error {
	return s.setAttribute(id, name, []string{value}, false)
}

// SetAttributeValues sets a vector attribute, replacing any previous values.
func (s *Session) SetAttributeValues(id int, name string, values []string) error {
	return s.setAttribute(id, name, values, true)
}

func (s *Session) setAttribute(id int, name string, values []string, vector bool) error {
	c, err := s.enter()
	if err != nil {
		return err
	}
	defer c.leave()

	if err := c.checkAttribute(name, values, vector); err != nil {
		return err
	}
	return c.templates.with(id, func(t *job.Template) error {
		t.Set(name, values...)
		return nil
	})
}

// checkAttribute validates an attribute before it reaches a template.
func (c *connection) checkAttribute(name string, values []string, vector bool) error {
	attr, ok := job.LookupAttribute(name)
	if !ok {
		return apperrors.InvalidAttribute(name, "unknown attribute")
	}
	if !c.supported[name] {
		return apperrors.InvalidAttribute(name, fmt.Sprintf("not supported by scheduler %s", c.contact))
	}
	if attr.Vector != vector {
		if attr.Vector {
			return apperrors.InvalidAttribute(name, "is a vector attribute")
		}
		return apperrors.InvalidAttribute(name, "is a scalar attribute")
	}
	if err := attr.Check(values); err != nil {
		return err
	}

	if name == job.AttrJobCategory && c.opts.categories.Configured() {
		if _, ok := c.opts.categories.Lookup(values[0]); !ok {
			return apperrors.InvalidAttribute(name, fmt.Sprintf("unknown job category %q", values[0]))
		}
	}
	return nil
}

// GetAttributeNames returns the attributes set on a template in the order
// they were first set.
func (s *Session) GetAttributeNames(id int) ([]string, error) {
	c, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer c.leave()

	var names []string
	err = c.templates.with(id, func(t *job.Template) error {
		names = t.Names()
		return nil
	})
	return names, err
}

// GetAttribute returns the values of an attribute set on a template.
func (s *Session) GetAttribute(id int, name string) ([]string, error) {
	c, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer c.leave()

	var values []string
	err = c.templates.with(id, func(t *job.Template) error {
		v, ok := t.Get(name)
		if !ok {
			return apperrors.InvalidAttribute(name, "not set")
		}
		values = v
		return nil
	})
	return values, err
}
