package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// opener yields a wired service and a release func.
type opener func(ctx context.Context) (*appointment.Service, func(), error)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "schedctl",
		Short:        "Clinic availability administration",
		SilenceUsage: true,
	}
	root.AddCommand(
		generateCmd(open),
		publishCmd(open),
		revokeCmd(open),
		slotsCmd(open),
		sweepCmd(open),
	)
	return root
}

// withService opens the service for the duration of one command.
func withService(cmd *cobra.Command, open opener, fn func(svc *appointment.Service) error) error {
	svc, release, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer release()
	return fn(svc)
}

func doctorFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("doctor")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--doctor must be a UUID")
	}
	return id, nil
}

// dateRangeFlags reads --from/--to, defaulting to a week starting today.
func dateRangeFlags(cmd *cobra.Command, svc *appointment.Service) (schedule.DateRange, error) {
	from := svc.Today()
	if raw, _ := cmd.Flags().GetString("from"); raw != "" {
		d, err := schedule.ParseDate(raw)
		if err != nil {
			return schedule.DateRange{}, err
		}
		from = d
	}
	to := from.AddDate(0, 0, 6)
	if raw, _ := cmd.Flags().GetString("to"); raw != "" {
		d, err := schedule.ParseDate(raw)
		if err != nil {
			return schedule.DateRange{}, err
		}
		to = d
	}
	return schedule.NewDateRange(from, to)
}

func generateCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Publish every slot of the doctor's clinic hours over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, err := doctorFlag(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, open, func(svc *appointment.Service) error {
				rng, err := dateRangeFlags(cmd, svc)
				if err != nil {
					return err
				}
				res, err := svc.GenerateAvailability(cmd.Context(), doctorID, rng)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created=%d skipped=%d conflicts=%d\n", res.Created, res.Skipped, res.Conflicts)
				return nil
			})
		},
	}
	cmd.Flags().String("doctor", "", "Doctor ID")
	cmd.Flags().String("from", "", "First date (YYYY-MM-DD), default today")
	cmd.Flags().String("to", "", "Last date (YYYY-MM-DD), default from+6 days")
	_ = cmd.MarkFlagRequired("doctor")
	return cmd
}

func publishCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a single slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, err := doctorFlag(cmd)
			if err != nil {
				return err
			}
			rawDate, _ := cmd.Flags().GetString("date")
			rawStart, _ := cmd.Flags().GetString("start")
			rawEnd, _ := cmd.Flags().GetString("end")
			date, err := schedule.ParseDate(rawDate)
			if err != nil {
				return err
			}
			start, err := schedule.ParseClock(rawStart)
			if err != nil {
				return err
			}
			end, err := schedule.ParseClock(rawEnd)
			if err != nil {
				return err
			}
			return withService(cmd, open, func(svc *appointment.Service) error {
				slot, err := svc.PublishAvailability(cmd.Context(), doctorID, date, start, end)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s %s %s-%s\n",
					slot.ID, slot.Date.Format(schedule.DateLayout), slot.StartTime, slot.EndTime)
				return nil
			})
		},
	}
	cmd.Flags().String("doctor", "", "Doctor ID")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().String("start", "", "Start time (HH:MM)")
	cmd.Flags().String("end", "", "End time (HH:MM)")
	for _, f := range []string{"doctor", "date", "start", "end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func revokeCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke SLOT_ID",
		Short: "Withdraw a slot; --force cancels an open appointment on it first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slotID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("slot id must be a UUID")
			}
			force, _ := cmd.Flags().GetBool("force")
			reason, _ := cmd.Flags().GetString("reason")
			return withService(cmd, open, func(svc *appointment.Service) error {
				if !force {
					slot, err := svc.RevokeAvailability(cmd.Context(), slotID)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", slot.ID)
					return nil
				}
				slot, cancelled, err := svc.ForceRevokeAvailability(cmd.Context(), slotID, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", slot.ID)
				if cancelled != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "cancelled appointment %s\n", cancelled.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("force", false, "Cancel an open appointment holding the slot")
	cmd.Flags().String("reason", "", "Cancellation note recorded on the appointment")
	return cmd
}

func slotsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List open slots for a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, err := doctorFlag(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, open, func(svc *appointment.Service) error {
				rng, err := dateRangeFlags(cmd, svc)
				if err != nil {
					return err
				}
				slots, err := svc.ListAvailableSlots(cmd.Context(), doctorID, rng)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tDATE\tSTART\tEND")
				for _, s := range slots {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Date.Format(schedule.DateLayout), s.StartTime, s.EndTime)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().String("doctor", "", "Doctor ID")
	cmd.Flags().String("from", "", "First date (YYYY-MM-DD), default today")
	cmd.Flags().String("to", "", "Last date (YYYY-MM-DD), default from+6 days")
	_ = cmd.MarkFlagRequired("doctor")
	return cmd
}

func sweepCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the no-show and reminder sweeps once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, open, func(svc *appointment.Service) error {
				noShows, err := svc.SweepNoShows(cmd.Context())
				if err != nil {
					return err
				}
				reminders, err := svc.SendReminders(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "no_shows=%d reminders=%d\n", noShows, reminders)
				return nil
			})
		},
	}
}
