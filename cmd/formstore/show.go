package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/format"
	"github.com/andreyvit/formstore/submission"
)

type formatFlags struct {
	formPath string
	basic    format.BasicFormatter
}

func (ff *formatFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&ff.formPath, "form", "f", "", "form definition (YAML)")
	fs.BoolVar(&ff.basic.SeparateCoordinates, "separate-coordinates", false, "print geo-point components separately")
	fs.BoolVar(&ff.basic.IncludeAltitude, "altitude", false, "include geo-point altitude")
	fs.BoolVar(&ff.basic.IncludeAccuracy, "accuracy", false, "include geo-point accuracy")
}

func newShowCmd(g *globalFlags) *cobra.Command {
	var ff formatFlags
	cmd := &cobra.Command{
		Use:   "show --form FORM.yaml URI",
		Short: "Print a stored submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				form, err := a.loadForm(ctx, ff.formPath)
				if err != nil {
					return err
				}
				root, err := a.store.Load(ctx, form, args[0])
				if err != nil {
					return err
				}
				return printTree(cmd.OutOrStdout(), root, &ff.basic)
			})
		},
	}
	ff.register(cmd)
	return cmd
}

func newResolveCmd(g *globalFlags) *cobra.Command {
	var ff formatFlags
	cmd := &cobra.Command{
		Use:   "resolve --form FORM.yaml FORM#URI/PATH",
		Short: "Print the element addressed by a submission key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				form, err := a.loadForm(ctx, ff.formPath)
				if err != nil {
					return err
				}
				e, err := resolveKey(ctx, a, form, args[0])
				if err != nil {
					return err
				}
				return printTree(cmd.OutOrStdout(), e, &ff.basic)
			})
		},
	}
	ff.register(cmd)
	return cmd
}

// resolveKey loads the submission named by the first part of an absolute
// key and resolves the rest.
func resolveKey(ctx context.Context, a *app, form *submission.Form, s string) (submission.Element, error) {
	key, err := submission.ParseKey(s)
	if err != nil {
		return nil, err
	}
	if key[0].Auri == "" || !strings.EqualFold(key[0].Name, form.ID) {
		return nil, fmt.Errorf("%s: key must start with %s#URI", s, form.ID)
	}
	root, err := a.store.Load(ctx, form, key[0].Auri)
	if err != nil {
		return nil, err
	}
	e := root.Resolve(key)
	if e == nil {
		return nil, fmt.Errorf("%s: %w", s, formstore.ErrNotFound)
	}
	return e, nil
}

// printTree writes one line per node below e: keys for sets and repeats,
// key = cells for values.
func printTree(w io.Writer, e submission.Element, f submission.Formatter) error {
	var out submission.OutputRow
	var err error
	submission.DepthFirst(e, submission.VisitorFunc(func(e submission.Element) bool {
		switch e := e.(type) {
		case *submission.SubmissionSet:
			_, err = fmt.Fprintln(w, e.SubmissionKey())
		case *submission.Repeat:
			_, err = fmt.Fprintf(w, "%v (%d)\n", e.SubmissionKey(), e.Len())
		default:
			out.Reset()
			if err = e.Format(f, &out, ""); err == nil {
				_, err = fmt.Fprintf(w, "%v = %s\n", e.SubmissionKey(), strings.Join(out.Strings("null"), ", "))
			}
		}
		return err == nil
	}))
	return err
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var formPath string
	cmd := &cobra.Command{
		Use:   "delete --form FORM.yaml FORM#URI[/REPEAT...]",
		Short: "Delete a submission or a whole repeat group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				form, err := a.loadForm(ctx, formPath)
				if err != nil {
					return err
				}
				e, err := resolveKey(ctx, a, form, args[0])
				if err != nil {
					return err
				}
				keys, err := a.store.DeletionKeys(ctx, e)
				if err != nil {
					return err
				}
				if err := a.store.Delete(ctx, e); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %v (%d rows)\n", e.SubmissionKey(), len(keys))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&formPath, "form", "f", "", "form definition (YAML)")
	return cmd
}
