package sqlinline

const QEnsureAppSettingsTable = `--sql 3c0f6a52-9d1e-4f0b-a6d2-5b7e2f8c41a9
create table if not exists app_settings (
  id text primary key,
  payload jsonb not null default '{}'::jsonb,
  updated_at timestamptz not null default now()
);
`

const QSelectAppSettings = `--sql b8d1e4a7-27c3-4e65-9f0a-1d6c3b9e7f24
select payload, updated_at
from app_settings
where id = $1::text
limit 1;
`

const QUpsertAppSettings = `--sql 71e9c2d5-4a8b-4c3f-b0e6-8f2a5d1c9e37
insert into app_settings (id, payload, updated_at)
values ($1::text, $2::jsonb, now())
on conflict (id) do update set
  payload = excluded.payload,
  updated_at = now()
returning updated_at;
`

const QDeleteAppSettings = `--sql e4a6b1f8-5c2d-4d7e-93b0-2f8c6a1e5d40
delete from app_settings
where id = $1::text;
`
