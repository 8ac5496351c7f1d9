package factory

// SampleYAML is a complete configuration with fixture data. It runs the
// standard Vietnamese structure (no structures section), two KPI groups
// and two adjustment rules over March 2025.
const SampleYAML = `params:
  personal_deduction: 11000000
  dependent_deduction: 4400000
  union_fee_rate: 1
  insurance:
    bhxh: {employee: 8, company: 17.5}
    bhyt: {employee: 1.5, company: 3}
    bhtn: {employee: 1, company: 1}

kpi:
  overdue_threshold_days: 7
  profile: {name: Default, ontime: 1, late: 0.5, overdue: 0.2}
  groups:
    - {code: N1, name: Delivery, weight: 40, sequence: 1}
    - {code: N2, name: Support, weight: 60, sequence: 2}
  labels:
    - {id: L1, name: Features, group: N1, tag: feature, weight: 1}
    - {id: L2, name: Tickets, group: N2, tag: ticket, weight: 1}

adjustments:
  - {code: LATE, name: Late arrival, kind: subtract, points: 0.5, source: automatic, variable: sum_late, sequence: 1}
  - {code: PRAISE, name: Commendation, kind: add, points: 1, source: automatic, variable: commendations, sequence: 2}
  - {code: BONUS, name: Manager bonus, kind: add, points: 5, source: manual}

fixtures:
  employees:
    - {id: emp-1, code: NV001, name: Nguyen Van A, account: acc-1, department: eng, job_title: Developer}
    - {id: emp-2, code: NV002, name: Tran Thi B, account: acc-2, department: ops, job_title: Support}
  periods:
    - {id: 2025-03, name: 03/2025, start: 2025-03-01, end: 2025-03-31}
  payslips:
    - {id: slip-2025-03-emp-1, run: 2025-03, employee: emp-1, period: 2025-03}
    - {id: slip-2025-03-emp-2, run: 2025-03, employee: emp-2, period: 2025-03}
  profiles:
    emp-1: {base_wage: 12000000, si_wage: 8000000, dependent_count: 0, wage_type: gross}
    emp-2: {base_wage: 9000000, dependent_count: 1, wage_type: gross}
  allowances:
    emp-1: {lunch: 730000}
  inputs:
    emp-1: {commendations: 2}
  timesheet:
    - {employee: emp-1, date: 2025-03-31, points: 22, standard: 22, late: 3}
    - {employee: emp-2, date: 2025-03-31, points: 20, standard: 22, unpaid: 2}
  work_items:
    - {id: T-1, assignee: acc-1, done: true, deadline: 2025-03-10T17:00:00Z, done_at: 2025-03-10T09:00:00Z, tags: [feature]}
    - {id: T-2, assignee: acc-1, done: true, deadline: 2025-03-12T17:00:00Z, done_at: 2025-03-14T10:00:00Z, tags: [feature]}
    - {id: T-3, assignee: acc-1, done: true, deadline: 2025-03-20T17:00:00Z, done_at: 2025-03-20T16:00:00Z, tags: [ticket]}
    - {id: T-4, assignee: acc-2, done: false, deadline: 2025-03-25T17:00:00Z, tags: [ticket]}
`
