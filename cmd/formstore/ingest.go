package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/submission"
)

func newIngestCmd(g *globalFlags) *cobra.Command {
	var formPath string
	cmd := &cobra.Command{
		Use:   "ingest --form FORM.yaml SUBMISSION.json",
		Short: "Store a JSON submission and print its URI",
		Long: "Values are matched to form elements by name, with groups as nested objects and\n" +
			"repeats as arrays of objects. Binary values name a file, relative to the JSON file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				form, err := a.loadForm(ctx, formPath)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if !gjson.ValidBytes(data) {
					return &formstore.ParseError{What: "JSON submission", Input: args[0]}
				}
				root := a.store.New(form)
				in := &ingester{ctx: ctx, a: a, dir: filepath.Dir(args[0])}
				err = in.fill(root, gjson.ParseBytes(data))
				if err == nil {
					err = a.store.Persist(ctx, root)
				}
				if err != nil {
					in.discard()
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), root.URI())
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&formPath, "form", "f", "", "form definition (YAML)")
	return cmd
}

type ingester struct {
	ctx     context.Context
	a       *app
	dir     string
	objects []string
}

func (in *ingester) fill(set *submission.SubmissionSet, obj gjson.Result) error {
	for _, e := range set.Elements() {
		res := obj.Get(jsonPath(e.FormElement(), set.FormElement()))
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		switch v := e.(type) {
		case *submission.Repeat:
			if !res.IsArray() {
				return fmt.Errorf("%v: expected an array", v)
			}
			for _, item := range res.Array() {
				if err := in.fill(v.AddSet(), item); err != nil {
					return err
				}
			}
		case *submission.BinaryValue:
			if err := in.attach(v, res.String()); err != nil {
				return err
			}
		case submission.Value:
			s := res.String()
			if res.IsArray() {
				var parts []string
				for _, item := range res.Array() {
					parts = append(parts, item.String())
				}
				s = strings.Join(parts, " ")
			}
			if err := v.ParseExternal(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *ingester) attach(v *submission.BinaryValue, name string) error {
	if name == "" {
		return nil
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(in.dir, name)
	}
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("%v: %w", v.SubmissionKey(), err)
	}
	defer f.Close()
	id, err := in.a.blobs.Write(in.ctx, f)
	if err != nil {
		return fmt.Errorf("%v: %w", v.SubmissionKey(), err)
	}
	in.objects = append(in.objects, id)
	v.Attach(id)
	return nil
}

// discard removes the blobs written for a submission that was not stored.
func (in *ingester) discard() {
	for _, id := range in.objects {
		if err := in.a.blobs.Delete(in.ctx, id); err != nil {
			in.a.logger.Error("formstore: cannot remove blob of failed ingest", "object", id, "err", err)
		}
	}
}

// jsonPath is the gjson path of e inside the object of its owning set, going
// through enclosing groups.
func jsonPath(e, owner *submission.FormElement) string {
	var parts []string
	for ; e != nil && e != owner; e = e.Parent() {
		parts = append([]string{strings.ReplaceAll(e.Name, ".", `\.`)}, parts...)
	}
	return strings.Join(parts, ".")
}
